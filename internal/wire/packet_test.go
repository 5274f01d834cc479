package wire_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"code.hybscloud.com/wlappidproxy/internal/wire"
)

func TestWritePacketThenReadPacketRoundTrips(t *testing.T) {
	pkts := []wire.Packet{
		{ID: 1, Opcode: 0, Body: nil},
		{ID: 2, Opcode: 3, Body: wire.AppendUint32(nil, 42)},
		{ID: 7, Opcode: 1, Body: wire.AppendString(nil, "firefox", false)},
	}

	var buf bytes.Buffer
	for _, p := range pkts {
		if err := wire.WritePacket(&buf, p); err != nil {
			t.Fatalf("WritePacket: %v", err)
		}
	}

	for i, want := range pkts {
		got, err := wire.ReadPacket(&buf)
		if err != nil {
			t.Fatalf("ReadPacket[%d]: %v", i, err)
		}
		if got.ID != want.ID || got.Opcode != want.Opcode || !bytes.Equal(got.Body, want.Body) {
			t.Fatalf("ReadPacket[%d] = %+v, want %+v", i, got, want)
		}
	}

	if _, err := wire.ReadPacket(&buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestReadPacketCleanEOFAtMessageBoundary(t *testing.T) {
	_, err := wire.ReadPacket(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadPacketShortHeaderIsError(t *testing.T) {
	// Three bytes in: a partial header must not be mistaken for a clean EOF.
	_, err := wire.ReadPacket(bytes.NewReader([]byte{1, 2, 3}))
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected a non-EOF error for a truncated header, got %v", err)
	}
}

func TestReadPacketShortBodyIsError(t *testing.T) {
	var buf bytes.Buffer
	if err := wire.WritePacket(&buf, wire.Packet{ID: 1, Opcode: 0, Body: make([]byte, 8)}); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	truncated := buf.Bytes()[:len(buf.Bytes())-4]
	_, err := wire.ReadPacket(bytes.NewReader(truncated))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadPacketMalformedLengthIsError(t *testing.T) {
	var buf bytes.Buffer
	_ = wire.WritePacket(&buf, wire.Packet{ID: 1, Opcode: 0})
	raw := buf.Bytes()
	// Zero out word2 so the decoded length (0) is below the 8-byte minimum.
	raw[4], raw[5], raw[6], raw[7] = 0, 0, 0, 0
	_, err := wire.ReadPacket(bytes.NewReader(raw))
	if !errors.Is(err, wire.ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestWritePacketRecomputesLengthFromBody(t *testing.T) {
	var buf bytes.Buffer
	body := wire.AppendString(nil, "com.example.group", false)
	if err := wire.WritePacket(&buf, wire.Packet{ID: 5, Opcode: 3, Body: body}); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	got, err := wire.ReadPacket(&buf)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if len(got.Body) != len(body) {
		t.Fatalf("body length = %d, want %d", len(got.Body), len(body))
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no trailing bytes, got %d", buf.Len())
	}
}

func TestWritePacketTooLong(t *testing.T) {
	err := wire.WritePacket(io.Discard, wire.Packet{ID: 1, Opcode: 0, Body: make([]byte, 1<<16)})
	if !errors.Is(err, wire.ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
}

// scriptedReader replays a fixed sequence of reads, simulating a socket that
// delivers bytes across several short recvmsg-style calls.
type scriptedReader struct {
	chunks [][]byte
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func TestReadPacketAcrossShortReads(t *testing.T) {
	var buf bytes.Buffer
	want := wire.Packet{ID: 9, Opcode: 2, Body: wire.AppendUint32(nil, 100)}
	if err := wire.WritePacket(&buf, want); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	raw := buf.Bytes()

	var chunks [][]byte
	for _, b := range raw {
		chunks = append(chunks, []byte{b})
	}
	got, err := wire.ReadPacket(&scriptedReader{chunks: chunks})
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if got.ID != want.ID || got.Opcode != want.Opcode || !bytes.Equal(got.Body, want.Body) {
		t.Fatalf("ReadPacket = %+v, want %+v", got, want)
	}
}
