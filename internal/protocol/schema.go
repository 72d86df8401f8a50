package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "mem://worldweaver/"

var (
	cmdSchemaOnce sync.Once
	cmdSchema     *jsonschema.Schema
	cmdSchemaErr  error
)

func compileSchemas() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		b, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBase+e.Name(), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", e.Name(), err)
		}
	}
	return c.Compile(schemaBase + "cmd.schema.json")
}

// CmdSchema returns the compiled CMD schema.
func CmdSchema() (*jsonschema.Schema, error) {
	cmdSchemaOnce.Do(func() { cmdSchema, cmdSchemaErr = compileSchemas() })
	return cmdSchema, cmdSchemaErr
}

// DecodeCmd validates raw against the CMD schema and decodes it.
func DecodeCmd(raw []byte) (CmdMsg, error) {
	var cmd CmdMsg
	s, err := CmdSchema()
	if err != nil {
		return cmd, fmt.Errorf("compile schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return cmd, &ProtoError{Msg: fmt.Sprintf("bad json: %v", err)}
	}
	if err := s.Validate(doc); err != nil {
		return cmd, &ProtoError{Msg: err.Error()}
	}
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return cmd, &ProtoError{Msg: fmt.Sprintf("bad json: %v", err)}
	}
	if cmd.ProtocolVersion != Version {
		return cmd, &ProtoError{Msg: fmt.Sprintf("unsupported protocol_version %q", cmd.ProtocolVersion)}
	}
	return cmd, nil
}
