package protocol

import (
	"errors"

	"worldweaver.app/internal/sim/terrain"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Command layer.
	ErrValidation = "E_VALIDATION"
	ErrIO         = "E_IO"
	ErrFormat     = "E_FORMAT"
	ErrDevice     = "E_DEVICE"
	ErrBusy       = "E_BUSY"
	ErrNoTerrain  = "E_NO_TERRAIN"
	ErrTimeout    = "E_TIMEOUT"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrValidation:      {},
	ErrIO:              {},
	ErrFormat:          {},
	ErrDevice:          {},
	ErrBusy:            {},
	ErrNoTerrain:       {},
	ErrTimeout:         {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// ProtoError is a malformed or schema-invalid message.
type ProtoError struct{ Msg string }

func (e *ProtoError) Error() string { return e.Msg }

// CodeFor maps an engine error to its wire code.
func CodeFor(err error) string {
	if err == nil {
		return ""
	}
	var pe *ProtoError
	if errors.As(err, &pe) {
		return ErrProtoBadRequest
	}
	switch terrain.KindOf(err) {
	case terrain.KindValidation:
		return ErrValidation
	case terrain.KindIO:
		return ErrIO
	case terrain.KindFormat:
		return ErrFormat
	case terrain.KindDevice:
		return ErrDevice
	case terrain.KindBusy:
		return ErrBusy
	case terrain.KindNoTerrain:
		return ErrNoTerrain
	}
	if isTimeout(err) {
		return ErrTimeout
	}
	return ErrInternal
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	var t timeout
	return errors.As(err, &t) && t.Timeout()
}

// ErrorBodyFor builds the RESULT error payload for err.
func ErrorBodyFor(err error) *ErrorBody {
	if err == nil {
		return nil
	}
	return &ErrorBody{Code: CodeFor(err), Message: err.Error(), Fatal: terrain.IsFatal(err)}
}
