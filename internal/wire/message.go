// Package wire implements the host control protocol's message codec:
// encoding and decoding the JSON-array frames exchanged over the
// transport, and minting the host's own message ids.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// responseMarker is the sentinel second element that marks a frame as a
// response rather than a request: [id, ":", request_id, name, args...].
const responseMarker = ":"

// Message is the parsed form of one protocol frame.
type Message struct {
	ID        string
	Name      string
	RequestID string // empty for requests
	Args      []json.RawMessage
}

// IsResponse reports whether this message is a response to an
// earlier request.
func (m *Message) IsResponse() bool {
	return m.RequestID != ""
}

// IsEval reports whether this message is an evaluation request, i.e.
// its name begins with "=".
func (m *Message) IsEval() bool {
	return len(m.Name) > 0 && m.Name[0] == '='
}

// ArgString decodes args[i] as a JSON string.
func (m *Message) ArgString(i int) (string, error) {
	if i < 0 || i >= len(m.Args) {
		return "", fmt.Errorf("wire: arg %d missing (have %d)", i, len(m.Args))
	}
	var s string
	if err := json.Unmarshal(m.Args[i], &s); err != nil {
		return "", fmt.Errorf("wire: arg %d not a string: %w", i, err)
	}
	return s, nil
}

// ArgStringOrNull decodes args[i] as a string, returning ok=false if
// the argument is JSON null (used for the cancellation target and the
// read-prompt EOF response).
func (m *Message) ArgStringOrNull(i int) (s string, ok bool, err error) {
	if i < 0 || i >= len(m.Args) {
		return "", false, fmt.Errorf("wire: arg %d missing (have %d)", i, len(m.Args))
	}
	if bytes.Equal(bytes.TrimSpace(m.Args[i]), []byte("null")) {
		return "", false, nil
	}
	if err := json.Unmarshal(m.Args[i], &s); err != nil {
		return "", false, fmt.Errorf("wire: arg %d not a string or null: %w", i, err)
	}
	return s, true, nil
}

// EncodeRequest encodes a request frame: [id, name, args...].
func EncodeRequest(id, name string, args ...any) ([]byte, error) {
	elems := make([]any, 0, 2+len(args))
	elems = append(elems, id, name)
	elems = append(elems, args...)
	return json.Marshal(elems)
}

// EncodeResponse encodes a response frame: [id, ":", request_id, name, args...].
func EncodeResponse(id, requestID, name string, args ...any) ([]byte, error) {
	elems := make([]any, 0, 4+len(args))
	elems = append(elems, id, responseMarker, requestID, name)
	elems = append(elems, args...)
	return json.Marshal(elems)
}

// Decode parses one frame. A nil Message with a nil error means the
// frame was the shutdown sentinel (a top-level JSON null). A non-nil
// error means the frame was malformed, which is always a fatal
// protocol violation per the failure semantics of this protocol.
func Decode(frame []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(frame)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, fmt.Errorf("wire: malformed frame: %w", err)
	}
	if len(elems) < 2 {
		return nil, fmt.Errorf("wire: frame has %d elements, need at least 2", len(elems))
	}

	var id, second string
	if err := json.Unmarshal(elems[0], &id); err != nil {
		return nil, fmt.Errorf("wire: frame element 0 (id) not a string: %w", err)
	}
	if err := json.Unmarshal(elems[1], &second); err != nil {
		return nil, fmt.Errorf("wire: frame element 1 (name) not a string: %w", err)
	}

	if second == responseMarker {
		if len(elems) < 4 {
			return nil, fmt.Errorf("wire: response frame has %d elements, need at least 4", len(elems))
		}
		var requestID, name string
		if err := json.Unmarshal(elems[2], &requestID); err != nil {
			return nil, fmt.Errorf("wire: response element 2 (request_id) not a string: %w", err)
		}
		if err := json.Unmarshal(elems[3], &name); err != nil {
			return nil, fmt.Errorf("wire: response element 3 (name) not a string: %w", err)
		}
		return &Message{ID: id, Name: name, RequestID: requestID, Args: elems[4:]}, nil
	}

	return &Message{ID: id, Name: second, Args: elems[2:]}, nil
}

// EncodeShutdown returns the shutdown sentinel frame: a bare JSON null.
func EncodeShutdown() []byte {
	return []byte("null")
}

// IDMinter mints host-originated ids of the form "#<n>#" where n is a
// monotonically increasing counter that starts at 0 and steps by 2.
// The client's id namespace is independent, so ids minted here never
// need to avoid client-chosen ids by construction — only among
// themselves, which the counter guarantees.
type IDMinter struct {
	next int
}

// NewIDMinter creates a minter starting at 0.
func NewIDMinter() *IDMinter {
	return &IDMinter{next: 0}
}

// Mint returns the next id and advances the counter by 2.
func (m *IDMinter) Mint() string {
	id := fmt.Sprintf("#%d#", m.next)
	m.next += 2
	return id
}
