package dxocam

import "bytes"

// accumulator is the growable byte buffer holding unemitted live-view
// bytes across iterations of the reassembler loop (spec.md §3). It is
// reset to empty each time a complete frame is emitted (spec.md I6).
type accumulator struct {
	buf []byte
}

func newAccumulator() *accumulator {
	return &accumulator{buf: make([]byte, 0, initialAccumulatorCap)}
}

func (a *accumulator) append(chunk []byte) {
	a.buf = append(a.buf, chunk...)
}

func (a *accumulator) reset() {
	a.buf = a.buf[:0]
}

// tryEmit searches the accumulator for a complete JPEG frame (SOI
// through EOI inclusive). If one is found it is returned by value along
// with true, and the accumulator is reset to empty per I6 -- bytes
// trailing the EOI of an emitted frame are intentionally dropped, not
// carried forward into the next frame (spec.md §9 open question 1;
// preserved as specified).
//
// If only an SOI is found, the accumulator is trimmed to start at that
// SOI, discarding any leading garbage that preceded it.
func (a *accumulator) tryEmit() ([]byte, bool) {
	h := bytes.Index(a.buf, jpegSOI)
	if h < 0 {
		return nil, false
	}
	t := bytes.Index(a.buf[h+1:], jpegEOI)
	if t < 0 {
		if h > 0 {
			a.buf = a.buf[h:]
		}
		return nil, false
	}
	trailerEnd := h + 1 + t + len(jpegEOI)
	frame := make([]byte, trailerEnd-h)
	copy(frame, a.buf[h:trailerEnd])
	a.reset()
	return frame, true
}

// jpegReassembler drives live-view mode: it reads packets through the
// handshake filter, groups them into header/trailer-delimited chunks,
// and searches the running accumulator for complete JPEG frames.
type jpegReassembler struct {
	t   rawTransport
	hs  *handshakeFilter
	acc *accumulator
}

func newJPEGReassembler(t rawTransport, hs *handshakeFilter) *jpegReassembler {
	return &jpegReassembler{t: t, hs: hs, acc: newAccumulator()}
}

// readChunk performs spec.md §4.4 steps 1-4: read packets until one
// containing the JPEG EOI marker arrives, stripping the 32-byte metadata
// header prefix from the first packet of the chunk if present, and
// concatenating the payload bytes.
//
// The first packet of a chunk goes through the handshake filter, same as
// rpc.go's readOneResponse. Continuation reads bypass the filter and
// check isInitSignature directly: a signature observed mid-chunk is
// acked and the chunk is abandoned (spec.md §7, S5) rather than spliced
// across the interruption, so ok is false and no bytes from this chunk
// are returned.
func (r *jpegReassembler) readChunk() ([]byte, bool, error) {
	pkt, err := r.hs.read(packetSize)
	if err != nil {
		return nil, false, err
	}

	var chunk []byte
	if bytes.HasPrefix(pkt, jpegMetadataMarker) && len(pkt) >= handshakeLen {
		chunk = append(chunk, pkt[handshakeLen:]...)
	} else {
		chunk = append(chunk, pkt...)
	}

	for !bytes.Contains(pkt, jpegEOI) {
		pkt, err = r.t.recv(packetSize)
		if err != nil {
			return nil, false, err
		}
		if isInitSignature(pkt) {
			if err := r.hs.ackInitSignature(); err != nil {
				return nil, false, err
			}
			return nil, false, nil
		}
		chunk = append(chunk, pkt...)
	}
	return chunk, true, nil
}

// step runs one iteration of the reassembler loop: read a chunk, append
// it to the accumulator, and attempt to emit a complete frame. It
// returns (frame, true) if a frame was emitted this iteration. If the
// chunk read was abandoned due to a mid-stream init signature, any bytes
// held in the accumulator from before the interruption are discarded too
// -- they can no longer be a contiguous prefix of whatever the camera
// sends next, so the reassembler resyncs clean on the next SOI.
func (r *jpegReassembler) step() ([]byte, bool, error) {
	chunk, ok, err := r.readChunk()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		r.acc.reset()
		return nil, false, nil
	}
	r.acc.append(chunk)
	frame, ok := r.acc.tryEmit()
	return frame, ok, nil
}

// run drives the reassembler loop until stopped() returns true, invoking
// onFrame for each complete frame with a release hook, per spec.md's
// frame delivery contract. The loop checks stopped() before each
// iteration only. An iteration reads packets until one carrying an EOI
// arrives, so a stop takes effect once that chunk is complete; reads
// inside a chunk are not interrupted.
func (r *jpegReassembler) run(stopped func() bool, onFrame func(frame []byte, release func())) error {
	for !stopped() {
		frame, ok, err := r.step()
		if err != nil {
			return err
		}
		if ok {
			onFrame(frame, func() {})
		}
	}
	return nil
}
