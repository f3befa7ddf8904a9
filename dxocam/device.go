package dxocam

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"

	"github.jpl.nasa.gov/bdube/dxocam/camera"
)

// deviceState is the connection/initialization state machine spec.md
// §4.5 describes: Fresh -> Opening -> Draining -> Ready -> LiveView (back
// to Ready), with Errored reachable from any state and Closed reachable
// from Errored or normally.
type deviceState int

const (
	stateFresh deviceState = iota
	stateOpening
	stateDraining
	stateReady
	stateLiveView
	stateErrored
	stateClosed
)

// connectRetry builds the exponential backoff NewDevice's default
// transport opener retries USB bring-up with; NewDevice caps its total
// elapsed time at 5 seconds.
// Grounded on comm.RemoteDevice.Open: "we use an exponential backoff,
// the NKT sources do not like being connection thrashed" -- the DXO
// One's USB bring-up is equally sensitive to being hammered right after
// a previous session released the handle.
var connectRetry = backoff.NewExponentialBackOff

// Device is a single long-lived camera device driver core, bound
// one-to-one to a USB handle. All exported operations serialize through
// an internal mutex, satisfying spec.md I2 ("commands from any caller
// are serialized into a single-issuer order") the same way
// comm.RemoteDevice and thorlabs.ITC4000 guard their own transports.
type Device struct {
	mu sync.Mutex

	id       string
	serial   string
	nickname string

	state   deviceState
	lastErr error

	vid, pid uint16
	openFn   func() (rawTransport, error)

	rt  rawTransport
	hs  *handshakeFilter
	rpc *rpcCodec
	jr  *jpegReassembler

	settings map[string]interface{}
	status   map[string]interface{}
	battery  int

	stopRequested  atomic.Bool
	liveViewActive atomic.Bool
}

// NewDevice returns a Device bound to the given USB vendor/product ID.
// It does not open the USB handle; call Initialize for that. If id is
// empty, Initialize assigns a vendor/product/timestamp composite as the
// identity. A serial number read from the device is kept separately and
// does not replace the id.
func NewDevice(vid, pid uint16, id string) *Device {
	d := &Device{id: id, vid: vid, pid: pid, battery: -1}
	d.openFn = func() (rawTransport, error) {
		var t rawTransport
		op := func() error {
			opened, err := openTransport(vid, pid)
			if err != nil {
				return err
			}
			t = opened
			return nil
		}
		b := connectRetry()
		b.MaxElapsedTime = 5 * time.Second
		if err := backoff.Retry(op, b); err != nil {
			return nil, err
		}
		return t, nil
	}
	return d
}

// newDeviceForTest builds a Device around a pre-built rawTransport,
// bypassing USB entirely, the same "swap the hardware boundary for a
// fake" pattern nkt.mock and pi.mock use throughout the teacher repo.
func newDeviceForTest(id string, t rawTransport) *Device {
	d := &Device{id: id, battery: -1}
	d.openFn = func() (rawTransport, error) { return t, nil }
	return d
}

// Initialize performs the USB bring-up handshake: open/claim the
// interfaces, drain any queued handshake signature, and refresh status.
// Failure to open or drain is wrapped as InitError, recorded in the error
// latch, and connected is left false. A failed status refresh is logged
// and recorded in the error latch, and the device stays Ready.
func (d *Device) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.initializeLocked(); err != nil {
		d.lastErr = err
		d.state = stateErrored
		return err
	}
	return nil
}

func (d *Device) initializeLocked() error {
	d.state = stateOpening
	if d.id == "" {
		d.id = fmt.Sprintf("%04x:%04x:%d", d.vid, d.pid, time.Now().UnixNano())
	}

	t, err := d.openFn()
	if err != nil {
		return wrapInit(d.displayNameLocked(), err)
	}
	d.rt = t
	d.hs = newHandshakeFilter(t)
	d.rpc = newRPCCodec(t, d.hs)
	d.jr = newJPEGReassembler(t, d.hs)

	if sn, ok := t.(interface{ serialNumber() (string, error) }); ok {
		if serial, err := sn.serialNumber(); err == nil {
			d.serial = serial
		}
	}

	d.state = stateDraining
	if err := d.hs.drainHandshake(); err != nil {
		d.rt = nil
		return wrapInit(d.displayNameLocked(), err)
	}

	d.state = stateReady
	if err := d.refreshStatusLocked(); err != nil {
		// spec.md §7: status refresh failures during initialize are
		// logged and swallowed, the device is still initialized.
		log.Printf("dxocam: status refresh failed during initialize of %s: %v", d.displayNameLocked(), err)
		d.state = stateReady
	}
	return nil
}

// Close requests the live-view loop (if any) to stop, closes the USB
// handle, and marks the device not connected. USB close errors are
// logged, not raised, per spec.md §7.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopRequested.Store(true)
	if d.rt != nil {
		if err := d.rt.close(); err != nil {
			log.Printf("dxocam: error closing %s: %v", d.displayNameLocked(), err)
		}
		d.rt = nil
	}
	d.state = stateClosed
	return nil
}

func (d *Device) connectedLocked() bool {
	switch d.state {
	case stateOpening, stateDraining, stateReady, stateLiveView:
		return true
	default:
		return false
	}
}

// TransferOutRPC composes and sends method/params as a JSON-RPC request,
// advancing the sequence counter exactly once, and returns the decoded
// response. It requires the device be connected (Ready or LiveView);
// ParseFailure on the response is reported as (nil, nil), not an error.
func (d *Device) TransferOutRPC(method string, params interface{}) (map[string]interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transferOutRPCLocked(method, params)
}

func (d *Device) transferOutRPCLocked(method string, params interface{}) (map[string]interface{}, error) {
	if !d.connectedLocked() {
		return nil, ErrNotConnected
	}
	if err := d.rpc.transferOut(method, params); err != nil {
		return nil, d.failLocked(err)
	}
	resp, err := d.rpc.transferIn()
	if err != nil {
		return nil, d.failLocked(err)
	}
	return resp, nil
}

// failLocked records a transport-level failure, transitions the device
// to Errored (spec.md §4.5: "any state may transition to Errored on a
// transport failure"), and returns the error for the caller to propagate.
func (d *Device) failLocked(err error) error {
	d.lastErr = err
	d.state = stateErrored
	return err
}

// TakePhoto captures a single full-resolution photo.
func (d *Device) TakePhoto() error {
	_, err := d.TransferOutRPC("dxo_photo_take", nil)
	return err
}

// GetAllSettings fetches and caches the camera's full settings document.
func (d *Device) GetAllSettings() (map[string]interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	resp, err := d.transferOutRPCLocked("dxo_all_settings_get", nil)
	if err != nil {
		return nil, err
	}
	d.settings = resp
	return resp, nil
}

// GetStatus fetches and caches the camera's status document, updating
// the cached battery level if the response carries one.
func (d *Device) GetStatus() (map[string]interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refreshStatusLocked2()
}

// refreshStatusLocked issues the status RPC and caches the result,
// assuming d.mu is already held. Used by Initialize's post-drain status
// refresh; GetStatus calls refreshStatusLocked2 directly for the response.
func (d *Device) refreshStatusLocked() error {
	_, err := d.refreshStatusLocked2()
	return err
}

func (d *Device) refreshStatusLocked2() (map[string]interface{}, error) {
	resp, err := d.transferOutRPCLocked("dxo_camera_status_get", nil)
	if err != nil {
		return nil, err
	}
	d.status = resp
	if result, ok := resp["result"].(map[string]interface{}); ok {
		if raw, ok := result["battery"]; ok {
			if f, ok := raw.(float64); ok {
				d.battery = int(f)
			}
		}
	}
	return resp, nil
}

// StartLiveView switches the camera into view mode and runs the JPEG
// reassembler loop until StopLiveView is called or a transport error
// occurs. It blocks the calling goroutine for the duration of the
// stream, invoking onFrame once per complete frame.
func (d *Device) StartLiveView(onFrame func(camera.Frame)) error {
	d.mu.Lock()
	if !d.connectedLocked() {
		d.mu.Unlock()
		return ErrNotConnected
	}
	if _, err := d.transferOutRPCLocked("dxo_camera_mode_switch", map[string]string{"param": "view"}); err != nil {
		d.mu.Unlock()
		return err
	}
	d.state = stateLiveView
	jr := d.jr
	d.stopRequested.Store(false)
	d.liveViewActive.Store(true)
	d.mu.Unlock()

	err := jr.run(d.stopRequested.Load, func(frame []byte, release func()) {
		onFrame(camera.Frame{Bytes: frame, Release: release})
	})

	d.mu.Lock()
	d.liveViewActive.Store(false)
	if err != nil {
		d.failLocked(err)
	} else if d.state == stateLiveView {
		d.state = stateReady
	}
	d.mu.Unlock()
	return err
}

// StopLiveView requests the live-view loop to exit at its next
// iteration boundary. Safe to call from any goroutine. The loop checks
// the request between chunks, so it exits once the chunk it is reading
// (the packets up to the next EOI) is complete; a chunk in progress is
// not interrupted.
func (d *Device) StopLiveView() {
	d.stopRequested.Store(true)
}

// SetNickname sets the in-memory nickname used to compute DisplayName.
// Persisting nicknames across runs is the surrounding manager's
// responsibility (spec.md §1 non-goals); this core only holds the value
// for the lifetime of the process.
func (d *Device) SetNickname(nickname string) {
	d.mu.Lock()
	d.nickname = nickname
	d.mu.Unlock()
}

// GetState returns a read-only snapshot of the device's current
// identity and connection state.
func (d *Device) GetState() camera.StateSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	lastErr := ""
	if d.lastErr != nil {
		lastErr = d.lastErr.Error()
	}
	return camera.StateSnapshot{
		ID:               d.id,
		DisplayName:      displayName(d.nickname, d.serial, d.id),
		Nickname:         d.nickname,
		IsConnected:      d.connectedLocked(),
		IsLiveViewActive: d.liveViewActive.Load(),
		BatteryLevel:     d.battery,
		LastError:        lastErr,
		SerialNumber:     d.serial,
	}
}

func (d *Device) displayNameLocked() string {
	return displayName(d.nickname, d.serial, d.id)
}

// displayName is a pure function of (nickname, serial, id), per spec.md
// I7. A nickname, if set, wins outright; otherwise the last four
// characters of the serial number are used, falling back to the id if
// there is no serial.
func displayName(nickname, serial, id string) string {
	if nickname != "" {
		return nickname
	}
	tail := serial
	if tail == "" {
		tail = id
	}
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return fmt.Sprintf("Camera (%s)", tail)
}
