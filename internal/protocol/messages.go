package protocol

import "encoding/json"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	// Events opts in to pushed EVENT messages.
	Events   bool `json:"events,omitempty"`
	MaxQueue int  `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type               string             `json:"type"`
	ProtocolVersion    string             `json:"protocol_version"`
	SessionID          string             `json:"session_id"`
	ServerCapabilities ServerCapabilities `json:"server_capabilities"`
	Commands           []string           `json:"commands"`
	Status             any                `json:"status,omitempty"`
}

type ServerCapabilities struct {
	Events      bool `json:"events"`
	FramePNG    bool `json:"frame_png"`
	MaxTexture  int  `json:"max_texture_dimension"`
	UndoDepth   int  `json:"undo_depth"`
	Journal     bool `json:"journal"`
	WorldsIndex bool `json:"worlds_index"`
}

// CMD (client -> server)
type CmdMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ID              string          `json:"id"`
	Command         string          `json:"command"`
	Params          json.RawMessage `json:"params,omitempty"`
}

// RESULT (server -> client), one per CMD.
type ResultMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ID              string     `json:"id"`
	OK              bool       `json:"ok"`
	Result          any        `json:"result,omitempty"`
	Error           *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// EVENT (server -> client)
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	Event           any    `json:"event"`
}

func NewResult(id string, result any, err error) ResultMsg {
	m := ResultMsg{Type: TypeResult, ProtocolVersion: Version, ID: id, OK: err == nil}
	if err != nil {
		m.Error = ErrorBodyFor(err)
		return m
	}
	m.Result = result
	return m
}
