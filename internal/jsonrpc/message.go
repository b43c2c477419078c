package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"unicode"
	"unicode/utf8"
)

const version = "2.0"

// cancelMethod is the notification a caller sends when it stops waiting for
// a request.
const cancelMethod = "$/cancelRequest"

// message is the union of JSON-RPC 2.0 requests, notifications and responses.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

func (m *message) hasID() bool {
	return len(m.ID) > 0 && !bytes.Equal(m.ID, []byte("null"))
}

func (m *message) isRequest() bool {
	return m.Method != "" && m.hasID()
}

func (m *message) isNotification() bool {
	return m.Method != "" && !m.hasID()
}

func (m *message) isResponse() bool {
	return m.Method == "" && (m.Result != nil || m.Error != nil)
}

type cancelParams struct {
	ID json.RawMessage `json:"id"`
}

// encodeParams renders args as a positional params array. No args means no
// params member.
func encodeParams(args []any) (json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return data, nil
}

// decodeParams splits a positional params array. Absent params yield no
// values; anything other than an array fails with ErrUnsupportedParams.
func decodeParams(params json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '[' {
		return nil, ErrUnsupportedParams
	}
	var values []json.RawMessage
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedParams, err)
	}
	return values, nil
}

var eventNamePattern = regexp.MustCompile(`^on[A-Z]`)

// IsEventName reports whether name denotes an event rather than a method.
func IsEventName(name string) bool {
	return eventNamePattern.MatchString(name)
}

// wireName lowercases the first letter of a Go method name.
func wireName(goName string) string {
	r, size := utf8.DecodeRuneInString(goName)
	if r == utf8.RuneError {
		return goName
	}
	return string(unicode.ToLower(r)) + goName[size:]
}
