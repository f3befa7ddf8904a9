package dxocam

import (
	"errors"
	"testing"
)

// fakeTransport is an in-memory rawTransport: inbound packets are
// delivered from a fixed queue, outbound packets are recorded for
// assertions. It lets the rest of the package's tests drive the driver
// without a real USB device, the same "swap the hardware boundary"
// pattern the teacher repo's mock transports use.
type fakeTransport struct {
	inbound  [][]byte
	outbound [][]byte

	recvErr error
	sendErr error
}

func (f *fakeTransport) send(b []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	f.outbound = append(f.outbound, cp)
	return nil
}

func (f *fakeTransport) recv(maxLen int) ([]byte, error) {
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	if len(f.inbound) == 0 {
		return nil, errors.New("fakeTransport: inbound queue exhausted")
	}
	pkt := f.inbound[0]
	f.inbound = f.inbound[1:]
	if len(pkt) > maxLen {
		pkt = pkt[:maxLen]
	}
	return pkt, nil
}

func (f *fakeTransport) close() error { return nil }

func TestTransportSendRecvRequireConnection(t *testing.T) {
	tr := &transport{connected: false}
	if err := tr.send([]byte("x")); err != ErrNotConnected {
		t.Fatalf("send on disconnected transport: got %v, want ErrNotConnected", err)
	}
	if _, err := tr.recv(512); err != ErrNotConnected {
		t.Fatalf("recv on disconnected transport: got %v, want ErrNotConnected", err)
	}
}

func TestPickEndpointNumbersRequiresBothDirections(t *testing.T) {
	if _, _, err := pickEndpointNumbers(nil); err == nil {
		t.Fatal("expected an error with no endpoints present")
	}
}
