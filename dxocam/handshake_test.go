package dxocam

import "testing"

func pad(prefix []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, prefix)
	return out
}

func TestIsInitSignature(t *testing.T) {
	if !isInitSignature(initSignature) {
		t.Fatal("the canonical init signature must match itself")
	}
	if isInitSignature(initResponse) {
		t.Fatal("the init-response signature must not be mistaken for the init signature")
	}
	if isInitSignature([]byte{0x01, 0x02}) {
		t.Fatal("a short packet can never be an init signature")
	}
}

// TestHandshakeReadAbsorbsSignature exercises testable property 4: an
// init-signature injection at a read boundary is acked exactly once and
// the caller never observes the signature itself.
func TestHandshakeReadAbsorbsSignature(t *testing.T) {
	payload := pad([]byte{0xAA, 0xBB}, packetSize)
	ft := &fakeTransport{inbound: [][]byte{initSignature, payload}}
	hs := newHandshakeFilter(ft)

	got, err := hs.read(packetSize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ft.outbound) != 1 {
		t.Fatalf("expected exactly one ack, got %d", len(ft.outbound))
	}
	if string(ft.outbound[0]) != string(initResponse) {
		t.Fatalf("ack payload should be the init response signature")
	}
	if got[0] != 0xAA || got[1] != 0xBB {
		t.Fatalf("read should return the real packet following the signature, got %v", got[:4])
	}
}

func TestHandshakeReadPassesThroughNonSignaturePackets(t *testing.T) {
	payload := pad([]byte{0x01}, packetSize)
	ft := &fakeTransport{inbound: [][]byte{payload}}
	hs := newHandshakeFilter(ft)

	got, err := hs.read(packetSize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ft.outbound) != 0 {
		t.Fatalf("no ack should be emitted for a non-signature packet, got %d", len(ft.outbound))
	}
	if got[0] != 0x01 {
		t.Fatalf("unexpected payload: %v", got[:4])
	}
}

// TestDrainHandshakeStopsOnInitSignature exercises scenario S1's first
// half: the drain acks unconditionally, then again upon observing the
// init signature, and stops.
func TestDrainHandshakeStopsOnInitSignature(t *testing.T) {
	ft := &fakeTransport{inbound: [][]byte{initSignature}}
	hs := newHandshakeFilter(ft)

	if err := hs.drainHandshake(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ft.outbound) != 2 {
		t.Fatalf("expected exactly two ack packets (S1), got %d", len(ft.outbound))
	}
}

// TestDrainHandshakeStopsOnShortPacket covers the "queue already drained"
// branch: a short read ends the drain without a second ack.
func TestDrainHandshakeStopsOnShortPacket(t *testing.T) {
	ft := &fakeTransport{inbound: [][]byte{{0x00, 0x01}}}
	hs := newHandshakeFilter(ft)

	if err := hs.drainHandshake(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ft.outbound) != 1 {
		t.Fatalf("expected exactly one ack packet when the queue is already drained, got %d", len(ft.outbound))
	}
}
