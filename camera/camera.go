/*Package camera describes a standard set of interfaces for control of cameras.

Unlike a scientific CCD that exposes strided uint16/int32 frame buffers,
a camera whose native encode is already a compressed image format (JPEG,
as with the DXO One) exposes frames as opaque byte slices plus a release
hook, so the interfaces in this package describe that shape instead.
*/
package camera

// StateSnapshot is a read-only view of a camera's identity and connection
// state, suitable for serializing to a caller without exposing the
// camera's internal mutable fields.
type StateSnapshot struct {
	// ID is the camera's identity: the id the camera was created with, or
	// a vendor/product/timestamp composite if none was given.  It is not
	// replaced by the serial number.
	ID string `json:"id"`

	// DisplayName is a pure function of Nickname, Serial, and ID
	DisplayName string `json:"displayName"`

	// Nickname is a user-assigned label, empty if unset
	Nickname string `json:"nickname"`

	// IsConnected is true iff the underlying transport is open and claimed
	IsConnected bool `json:"isConnected"`

	// IsLiveViewActive is true while the live-view loop is running
	IsLiveViewActive bool `json:"isLiveViewActive"`

	// BatteryLevel is the last-known battery percentage, -1 if unknown
	BatteryLevel int `json:"batteryLevel"`

	// LastError is the message of the last error the device recorded,
	// empty if none
	LastError string `json:"lastError"`

	// SerialNumber is the camera's serial number, empty if unknown
	SerialNumber string `json:"serialNumber"`
}

// Frame is a single decoded image frame plus a release hook.  Release must
// be called by the receiver once it is done with any resource the frame
// wraps; callers may hold a Frame for an arbitrary amount of time before
// releasing it.
type Frame struct {
	// Bytes holds the frame payload.  For a JPEG source this begins
	// FF D8 FF and ends FF D9.
	Bytes []byte

	// Release must be invoked exactly once when the caller is finished
	// with Bytes
	Release func()
}

// JPEGSource describes a camera whose native frame encoding is JPEG, as
// opposed to a raw strided sensor plane.
type JPEGSource interface {
	// TakePhoto captures a single full-resolution photo
	TakePhoto() error
}

// LiveViewer describes a camera that can stream a live sequence of JPEG
// frames until told to stop.  StartLiveView blocks the calling goroutine
// for the duration of the stream, invoking fn once per frame; StopLiveView
// is safe to call from any goroutine and causes the blocked call to
// StartLiveView to return.
type LiveViewer interface {
	JPEGSource

	// StartLiveView runs the live-view loop, invoking fn for each frame
	// until StopLiveView is called or an error occurs
	StartLiveView(fn func(Frame)) error

	// StopLiveView requests the live-view loop to exit at the next
	// opportunity
	StopLiveView()

	// GetState returns a snapshot of the camera's current state
	GetState() StateSnapshot
}
