package dxocam

import (
	"bytes"
	"testing"
)

func TestAccumulatorTryEmitFindsCompleteFrame(t *testing.T) {
	a := newAccumulator()
	a.append([]byte{0x00, 0xFF, 0xD8, 0xFF, 0xAA, 0xBB, 0xFF, 0xD9, 0x00})

	frame, ok := a.tryEmit()
	if !ok {
		t.Fatal("expected a frame to be found")
	}
	want := []byte{0xFF, 0xD8, 0xFF, 0xAA, 0xBB, 0xFF, 0xD9}
	if !bytes.Equal(frame, want) {
		t.Fatalf("frame = %v, want %v", frame, want)
	}
	if len(a.buf) != 0 {
		t.Fatalf("accumulator must reset to empty after emitting, has %d bytes left", len(a.buf))
	}
}

// TestAccumulatorDropsTrailingBytesAfterEOI is the regression pin for
// spec.md I6/§9 open question 1: bytes following an emitted frame's EOI
// are not carried forward into the next frame.
func TestAccumulatorDropsTrailingBytesAfterEOI(t *testing.T) {
	a := newAccumulator()
	a.append([]byte{0xFF, 0xD8, 0xFF, 0xD9, 0xDE, 0xAD, 0xBE, 0xEF})
	if _, ok := a.tryEmit(); !ok {
		t.Fatal("expected a frame on the first call")
	}
	if len(a.buf) != 0 {
		t.Fatalf("trailing bytes after EOI must be dropped, got %d left", len(a.buf))
	}
}

func TestAccumulatorKeepsOnlySOIWhenNoEOIYet(t *testing.T) {
	a := newAccumulator()
	a.append([]byte{0xDE, 0xAD, 0xFF, 0xD8, 0xFF, 0x01, 0x02})
	if _, ok := a.tryEmit(); ok {
		t.Fatal("no frame should be emitted before the EOI arrives")
	}
	want := []byte{0xFF, 0xD8, 0xFF, 0x01, 0x02}
	if !bytes.Equal(a.buf, want) {
		t.Fatalf("accumulator should be trimmed to the SOI, got %v", a.buf)
	}
}

// TestJPEGReassemblerEmitsOneFrameAcrossThreePackets exercises scenario
// S4: a single frame split across three packets (with a metadata header
// on the first) must be reassembled byte-exact, and the accumulator
// must be empty afterward.
func TestJPEGReassemblerEmitsOneFrameAcrossThreePackets(t *testing.T) {
	header := pad(jpegMetadataMarker, handshakeLen)
	a := append(header, []byte{0xFF, 0xD8, 0xFF, 0x01}...)
	b := []byte{0x02, 0x03}
	c := []byte{0x04, 0xFF, 0xD9}

	ft := &fakeTransport{inbound: [][]byte{a, b, c}}
	hs := newHandshakeFilter(ft)
	r := newJPEGReassembler(ft, hs)

	frame, ok, err := r.step()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a complete frame")
	}
	want := []byte{0xFF, 0xD8, 0xFF, 0x01, 0x02, 0x03, 0x04, 0xFF, 0xD9}
	if !bytes.Equal(frame, want) {
		t.Fatalf("frame = %v, want %v", frame, want)
	}
	if len(r.acc.buf) != 0 {
		t.Fatalf("accumulator must be empty after the frame is emitted, has %d bytes", len(r.acc.buf))
	}
}

// TestJPEGReassemblerResyncsAfterMidStreamSignature exercises scenario
// S5: an init signature observed while awaiting a trailer is acked and
// the chunk it interrupted is abandoned -- no partial frame is ever
// delivered for bytes read before the interruption -- after which the
// reassembler resyncs cleanly on the next genuine SOI/EOI pair.
func TestJPEGReassemblerResyncsAfterMidStreamSignature(t *testing.T) {
	first := []byte{0xFF, 0xD8, 0xFF, 0x01} // SOI, no EOI yet
	next := []byte{0xFF, 0xD8, 0xFF, 0xFF, 0xD9}

	ft := &fakeTransport{inbound: [][]byte{first, initSignature, next}}
	hs := newHandshakeFilter(ft)
	r := newJPEGReassembler(ft, hs)

	frame, ok, err := r.step()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected no frame to be emitted for the interrupted chunk, got %v", frame)
	}
	if len(r.acc.buf) != 0 {
		t.Fatalf("accumulator must be empty after an interrupted chunk, has %d bytes", len(r.acc.buf))
	}
	if len(ft.outbound) != 1 {
		t.Fatalf("expected exactly one ack for the mid-stream signature, got %d", len(ft.outbound))
	}

	frame, ok, err = r.step()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected the reassembler to resync on the next genuine frame")
	}
	want := []byte{0xFF, 0xD8, 0xFF, 0xFF, 0xD9}
	if !bytes.Equal(frame, want) {
		t.Fatalf("frame = %v, want %v", frame, want)
	}
}

// TestJPEGReassemblerRunStopsWithinOnePacket exercises scenario S6:
// StopLiveView (modeled here as the stopped callback flipping true)
// ends the run loop within one packet's I/O.
func TestJPEGReassemblerRunStopsWithinOnePacket(t *testing.T) {
	frame := []byte{0xFF, 0xD8, 0xFF, 0xFF, 0xD9}
	ft := &fakeTransport{inbound: [][]byte{frame, frame, frame, frame}}
	hs := newHandshakeFilter(ft)
	r := newJPEGReassembler(ft, hs)

	seen := 0
	stop := false
	err := r.run(func() bool { return stop }, func(f []byte, release func()) {
		seen++
		stop = true
		release()
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != 1 {
		t.Fatalf("expected exactly one frame before stopping, got %d", seen)
	}
}
