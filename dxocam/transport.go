package dxocam

import (
	"fmt"

	"github.com/google/gousb"
)

// rawTransport is the minimal send/recv/close contract the rest of the
// driver depends on, so tests can substitute an in-memory fake for the
// real gousb-backed transport.
type rawTransport interface {
	send([]byte) error
	recv(maxLen int) ([]byte, error)
	close() error
}

// usbConfig is the fixed USB topology spec.md §6 describes: configuration
// 1, interface 0 (bulk endpoints) plus interface 1 (reserved by the
// device), alternate setting 1 on both.
const (
	usbConfig       = 1
	usbIfaceCamera  = 0
	usbIfaceReserve = 1
	usbAltSetting   = 1
)

// transport is a thin wrapper over a USB bulk-in/bulk-out endpoint pair.
// It performs no buffering or reassembly: recv returns whatever the bulk
// endpoint delivered in a single transfer, up to maxLen bytes.
//
// Grounded on usbtmc.USBDevice's bring-up sequence: open by VID/PID,
// enable auto-detach, claim the interface(s), and look up endpoints by
// number.
type transport struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	cfg    *gousb.Config
	ifaces []*gousb.Interface
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint

	connected bool
}

// openTransport opens the USB device identified by vid/pid, claims both
// interfaces at alternate setting 1, and captures the bulk endpoint
// numbers from interface 0.
func openTransport(vid, pid uint16) (*transport, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, err
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("dxocam: no device matching vid=%#04x pid=%#04x", vid, pid)
	}
	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	cfg, err := dev.Config(usbConfig)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	camIface, err := cfg.Interface(usbIfaceCamera, usbAltSetting)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, err
	}
	reservedIface, err := cfg.Interface(usbIfaceReserve, usbAltSetting)
	if err != nil {
		camIface.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, err
	}

	// endpoints[0] is OUT, endpoints[1] is IN, per spec.md §6.
	eps := camIface.Setting.Endpoints
	outNum, inNum, err := pickEndpointNumbers(eps)
	if err != nil {
		reservedIface.Close()
		camIface.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, err
	}
	out, err := camIface.OutEndpoint(outNum)
	if err != nil {
		reservedIface.Close()
		camIface.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, err
	}
	in, err := camIface.InEndpoint(inNum)
	if err != nil {
		reservedIface.Close()
		camIface.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, err
	}

	return &transport{
		ctx:       ctx,
		dev:       dev,
		cfg:       cfg,
		ifaces:    []*gousb.Interface{camIface, reservedIface},
		in:        in,
		out:       out,
		connected: true,
	}, nil
}

// pickEndpointNumbers walks interface 0's endpoint descriptors and
// returns the OUT and IN bulk endpoint numbers, per spec.md §6 (OUT is
// alternate endpoints[0], IN is alternate endpoints[1] -- i.e. the two
// directions of the single bulk pipe pair).
func pickEndpointNumbers(eps map[gousb.EndpointAddress]gousb.EndpointDesc) (out, in int, err error) {
	foundOut, foundIn := false, false
	for _, desc := range eps {
		switch desc.Direction {
		case gousb.EndpointDirectionOut:
			out, foundOut = desc.Number, true
		case gousb.EndpointDirectionIn:
			in, foundIn = desc.Number, true
		}
	}
	if !foundOut || !foundIn {
		return 0, 0, fmt.Errorf("dxocam: interface %d does not expose a bulk in/out pair (found %d endpoints)", usbIfaceCamera, len(eps))
	}
	return out, in, nil
}

// send writes b to the OUT endpoint in its entirety.
func (t *transport) send(b []byte) error {
	if !t.connected {
		return ErrNotConnected
	}
	_, err := t.out.Write(b)
	if err != nil {
		return wrapTransport("send", err)
	}
	return nil
}

// recv reads one bulk transfer from the IN endpoint, up to maxLen bytes.
// It returns exactly what the endpoint delivered; no reassembly.
func (t *transport) recv(maxLen int) ([]byte, error) {
	if !t.connected {
		return nil, ErrNotConnected
	}
	buf := make([]byte, maxLen)
	n, err := t.in.Read(buf)
	if err != nil {
		return nil, wrapTransport("recv", err)
	}
	return buf[:n], nil
}

// serialNumber fetches the device's USB serial number string descriptor,
// used by Device to compute its stable identity and display name.
func (t *transport) serialNumber() (string, error) {
	return t.dev.SerialNumber()
}

// close releases the USB handle.  Errors are swallowed by the caller per
// spec's close() error policy; close itself still reports them so the
// caller can choose to log.
func (t *transport) close() error {
	if !t.connected {
		return nil
	}
	t.connected = false
	var firstErr error
	for i := len(t.ifaces) - 1; i >= 0; i-- {
		t.ifaces[i].Close()
	}
	if t.cfg != nil {
		if err := t.cfg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.dev != nil {
		if err := t.dev.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.ctx != nil {
		if err := t.ctx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
