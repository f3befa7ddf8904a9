// Package dxocam implements the device driver core for a DXO One camera
// communicating over USB: the bring-up handshake, a length-prefixed
// JSON-RPC channel, and an MJPEG live-view reassembler, all sharing a
// single bulk endpoint pair.
package dxocam

// packetSize is the camera's USB bulk transfer size, in both directions.
const packetSize = 512

// handshakeLen is the length of the fixed 32-byte handshake markers the
// camera injects between packets at any time, and of the RPC header block.
const handshakeLen = 32

// initSignature is emitted by the camera to mark a channel boundary; the
// driver must answer with initResponse and resume reading transparently.
var initSignature = mustPad32([]byte{
	0xA3, 0xBA, 0xD1, 0x10, 0xAB, 0xCD, 0xAB, 0xCD,
	0x00, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00,
})

// initResponse is the driver's acknowledgement of initSignature.
var initResponse = mustPad32([]byte{
	0xA3, 0xBA, 0xD1, 0x10, 0xDC, 0xBA, 0xDC, 0xBA,
})

// rpcHeader is the fixed 8-byte prefix of every outbound RPC wire message.
var rpcHeader = []byte{0xA3, 0xBA, 0xD1, 0x10, 0x17, 0x08, 0x00, 0x0C}

// rpcTrailer is the fixed 22-byte trailer following the 2-byte length
// field in an RPC wire message, offsets 10-31.
var rpcTrailer = mustPadN([]byte{0x00, 0x00, 0x03, 0x00}, 22)

// jpegMetadataMarker prefixes a JPEG chunk's 32-byte header when the chunk
// begins a fresh read boundary.
var jpegMetadataMarker = []byte{0xA3, 0xBA, 0xD1, 0x10}

// jpegSOI and jpegEOI delimit a complete JPEG frame within the live-view
// accumulator.
var jpegSOI = []byte{0xFF, 0xD8, 0xFF}
var jpegEOI = []byte{0xFF, 0xD9}

// initialAccumulatorCap preallocates the live-view accumulator; actual
// DXO One frames run well under this, it exists purely to avoid the
// repeated reallocation a growing-from-zero buffer would otherwise incur.
const initialAccumulatorCap = 64 * 1024

func mustPad32(prefix []byte) []byte {
	return mustPadN(prefix, handshakeLen)
}

func mustPadN(prefix []byte, n int) []byte {
	if len(prefix) > n {
		panic("dxocam: wire constant prefix longer than its frame")
	}
	out := make([]byte, n)
	copy(out, prefix)
	return out
}
