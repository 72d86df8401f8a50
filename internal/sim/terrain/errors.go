package terrain

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors so callers can pick between retry, fix-input and restart.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindIO
	KindFormat
	KindDevice
	KindBusy
	KindNoTerrain
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindIO:
		return "io"
	case KindFormat:
		return "format"
	case KindDevice:
		return "device"
	case KindBusy:
		return "busy"
	case KindNoTerrain:
		return "no_terrain"
	default:
		return "internal"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind, so errors.Is(err, ErrBusy) holds for any busy error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrIO         = &Error{Kind: KindIO}
	ErrFormat     = &Error{Kind: KindFormat}
	ErrDevice     = &Error{Kind: KindDevice}
	ErrBusy       = &Error{Kind: KindBusy}
	ErrNoTerrain  = &Error{Kind: KindNoTerrain}
)

func Validationf(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

func IOErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindIO, Op: op, Err: err}
}

func FormatErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindFormat, Op: op, Err: err}
}

func Formatf(op, format string, args ...any) error {
	return &Error{Kind: KindFormat, Op: op, Err: fmt.Errorf(format, args...)}
}

func DeviceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindDevice, Op: op, Err: err}
}

func Busyf(op, format string, args ...any) error {
	return &Error{Kind: KindBusy, Op: op, Err: fmt.Errorf(format, args...)}
}

func NoTerrain(op string) error {
	return &Error{Kind: KindNoTerrain, Op: op, Err: errors.New("no terrain loaded")}
}

// KindOf reports the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsFatal is true for device errors: the session must be restarted, retrying will not help.
func IsFatal(err error) bool {
	return err != nil && KindOf(err) == KindDevice
}
