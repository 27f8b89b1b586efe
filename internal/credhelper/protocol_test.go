package credhelper

import (
	"bytes"
	"testing"
)

func TestWriteReadFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := request{Username: "alice", Secret: "s3cret"}
	if err := writeFrame(&buf, want); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	var got request
	if err := readFrame(&buf, &got); err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestReadFrame_RejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 0xff, 0xff, 0xff}) // absurd length, no body follows
	var v response
	if err := readFrame(&buf, &v); err == nil {
		t.Fatal("expected an error for an oversized frame length")
	}
}

func TestReadFrame_TruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, 0x05})
	buf.WriteString("ab")
	var v response
	if err := readFrame(&buf, &v); err == nil {
		t.Fatal("expected an error for a truncated frame body")
	}
}
