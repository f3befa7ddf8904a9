package dxocam

import "bytes"

// handshakeFilter is a pure decorator around a rawTransport's recv: it
// returns the next inbound packet that is not a metadata init signature,
// transparently acking and re-reading when one is observed. Both the RPC
// codec and the JPEG reassembler read through this filter (spec.md §4.2),
// because the camera may inject the handshake arbitrarily between
// packets in either mode.
type handshakeFilter struct {
	t rawTransport
}

func newHandshakeFilter(t rawTransport) *handshakeFilter {
	return &handshakeFilter{t: t}
}

// isInitSignature reports whether the first 32 bytes of pkt match the
// fixed init-signature pattern.
func isInitSignature(pkt []byte) bool {
	if len(pkt) < handshakeLen {
		return false
	}
	return bytes.Equal(pkt[:handshakeLen], initSignature)
}

// ackInitSignature emits the init-response signature out-of-band, per
// spec.md I4: the driver must answer exactly once per observed signature
// before continuing.
func (h *handshakeFilter) ackInitSignature() error {
	return h.t.send(initResponse)
}

// read returns the next packet that is not an init-signature injection,
// acking and re-reading transparently whenever one is observed.
func (h *handshakeFilter) read(maxLen int) ([]byte, error) {
	for {
		pkt, err := h.t.recv(maxLen)
		if err != nil {
			return nil, err
		}
		if !isInitSignature(pkt) {
			return pkt, nil
		}
		if err := h.ackInitSignature(); err != nil {
			return nil, err
		}
	}
}

// drainHandshake performs the initialization-time drain spec.md §4.2
// describes: emit the response signature unprompted, then repeatedly
// read and check until either a packet matching the init signature
// arrives (respond once and exit) or an empty/short packet indicates the
// queue is drained.
func (h *handshakeFilter) drainHandshake() error {
	if err := h.ackInitSignature(); err != nil {
		return err
	}
	for {
		pkt, err := h.t.recv(packetSize)
		if err != nil {
			return err
		}
		if isInitSignature(pkt) {
			return h.ackInitSignature()
		}
		if len(pkt) < packetSize {
			return nil
		}
	}
}
