// Package credhelper implements the host's connecting-client
// credential check: a length-prefixed (4-byte big-endian length plus
// a JSON body) single-shot request/response framing, structurally
// unrelated to the main protocol's JSON-array wire format — the two
// share only the "length-prefix a frame" convention, never the array
// shape, and are never carried on the same connection.
package credhelper

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// request is the body sent to a credential helper.
type request struct {
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

// response is the body a credential helper must reply with.
type response struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// maxFrameLen bounds a single frame to guard against a misbehaving
// helper sending an unreasonable length prefix.
const maxFrameLen = 1 << 20

// writeFrame writes a length-prefixed JSON frame: 4 bytes big-endian
// length, followed by the body.
func writeFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("credhelper: encode frame: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("credhelper: write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("credhelper: write frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed JSON frame into v.
func readFrame(r io.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fmt.Errorf("credhelper: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameLen {
		return fmt.Errorf("credhelper: frame length %d exceeds limit %d", n, maxFrameLen)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("credhelper: read frame body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("credhelper: decode frame: %w", err)
	}
	return nil
}
