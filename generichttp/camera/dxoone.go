// Package camera provides a generic HTTP interface to a camera device.
//
// The DXO One's native frame encoding is already JPEG, so this binder
// shapes HTTP routes around opaque byte frames and a live-view stream
// instead of the strided pixel-buffer model a scientific CCD would need.
package camera

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.jpl.nasa.gov/bdube/dxocam"
	rootcamera "github.jpl.nasa.gov/bdube/dxocam/camera"
	"github.jpl.nasa.gov/bdube/dxocam/generichttp"
	"github.jpl.nasa.gov/bdube/dxocam/imgrec"
)

// HTTPCamera wraps a *dxocam.Device with an HTTP route table, binding
// the driver core's operations (spec.md §6) onto a RouteTable2 the way
// generichttp/daq bound an HTTPDAC's operations onto routes.
type HTTPCamera struct {
	Cam *dxocam.Device

	// Rec, if non-nil, is used to persist every live-view frame to disk.
	// Photos taken through TakePhoto are not written by this binder.
	Rec *imgrec.Recorder

	// routes is built on the first call to RT and returned by every later
	// call, so routes added to it by Inject helpers are kept.
	routes generichttp.RouteTable2
}

// NewHTTPCamera wraps cam for HTTP access. rec may be nil, in which case
// frames are never written to disk.
func NewHTTPCamera(cam *dxocam.Device, rec *imgrec.Recorder) *HTTPCamera {
	return &HTTPCamera{Cam: cam, Rec: rec}
}

// RT returns the route table binding this camera's operations.
func (h *HTTPCamera) RT() generichttp.RouteTable2 {
	if h.routes != nil {
		return h.routes
	}
	h.routes = generichttp.RouteTable2{
		{Method: http.MethodGet, Path: "/state"}:           h.GetState,
		{Method: http.MethodPost, Path: "/initialize"}:     h.Initialize,
		{Method: http.MethodPost, Path: "/close"}:          h.Close,
		{Method: http.MethodPost, Path: "/take-photo"}:     h.TakePhoto,
		{Method: http.MethodGet, Path: "/settings"}:        h.GetAllSettings,
		{Method: http.MethodGet, Path: "/status"}:          h.GetStatus,
		{Method: http.MethodGet, Path: "/nickname"}:        generichttp.GetString(h.getNickname),
		{Method: http.MethodPost, Path: "/nickname"}:       generichttp.SetString(h.setNickname),
		{Method: http.MethodGet, Path: "/battery"}:         generichttp.GetInt(h.getBattery),
		{Method: http.MethodGet, Path: "/live-view"}:       h.LiveView,
		{Method: http.MethodPost, Path: "/live-view/stop"}: h.StopLiveView,
	}
	return h.routes
}

// GetState replies with a JSON StateSnapshot.
func (h *HTTPCamera) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Cam.GetState())
}

// Initialize runs the USB bring-up handshake.
func (h *HTTPCamera) Initialize(w http.ResponseWriter, r *http.Request) {
	if err := h.Cam.Initialize(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Close releases the USB handle.
func (h *HTTPCamera) Close(w http.ResponseWriter, r *http.Request) {
	h.Cam.Close()
	w.WriteHeader(http.StatusOK)
}

// TakePhoto captures a single photo on the camera. Nothing is written to
// disk by this handler; the recorder is not used here.
func (h *HTTPCamera) TakePhoto(w http.ResponseWriter, r *http.Request) {
	if err := h.Cam.TakePhoto(); err != nil {
		httpErrorForErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetAllSettings replies with the camera's full settings document.
func (h *HTTPCamera) GetAllSettings(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Cam.GetAllSettings()
	if err != nil {
		httpErrorForErr(w, err)
		return
	}
	writeJSON(w, resp)
}

// GetStatus replies with the camera's status document.
func (h *HTTPCamera) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Cam.GetStatus()
	if err != nil {
		httpErrorForErr(w, err)
		return
	}
	writeJSON(w, resp)
}

func (h *HTTPCamera) getNickname() (string, error) {
	return h.Cam.GetState().Nickname, nil
}

func (h *HTTPCamera) setNickname(nickname string) error {
	h.Cam.SetNickname(nickname)
	return nil
}

func (h *HTTPCamera) getBattery() (int, error) {
	return h.Cam.GetState().BatteryLevel, nil
}

// mjpegBoundary is the multipart boundary used for the live-view stream.
const mjpegBoundary = "dxocamframe"

// LiveView streams live-view frames as a multipart/x-mixed-replace MJPEG
// response, the HTTP rendering of startLiveView(cb)'s callback contract
// (spec.md §6). The request blocks for the duration of the stream; a
// client disconnect or a call to the /live-view/stop endpoint ends it.
func (h *HTTPCamera) LiveView(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", mjpegBoundary))
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	mw := multipart.NewWriter(w)
	mw.SetBoundary(mjpegBoundary)
	defer mw.Close()

	idx := 0
	err := h.Cam.StartLiveView(func(frame rootcamera.Frame) {
		defer frame.Release()
		if r.Context().Err() != nil {
			// the client has gone away; end the stream
			h.Cam.StopLiveView()
			return
		}
		if h.Rec != nil {
			h.Rec.Incr()
			h.Rec.Write(frame.Bytes)
		}
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", "image/jpeg")
		header.Set("Content-Length", strconv.Itoa(len(frame.Bytes)))
		part, err := mw.CreatePart(header)
		if err != nil {
			return
		}
		part.Write(frame.Bytes)
		if canFlush {
			flusher.Flush()
		}
		idx++
	})
	if err != nil {
		// headers are already sent; nothing left to do but stop writing.
		return
	}
}

// StopLiveView requests the running live-view loop to exit.
func (h *HTTPCamera) StopLiveView(w http.ResponseWriter, r *http.Request) {
	h.Cam.StopLiveView()
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// httpErrorForErr maps a dxocam error to an HTTP status, giving
// ErrNotConnected its own 409 Conflict rather than a blanket 500.
func httpErrorForErr(w http.ResponseWriter, err error) {
	if err == dxocam.ErrNotConnected {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
