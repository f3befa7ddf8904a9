package dxocam

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
)

// rpcRequest is serialized to the wire JSON-RPC 2.0 envelope spec.md §4.3
// defines.
type rpcRequest struct {
	Method string
	Params interface{}
	ID     uint32
}

type wireRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint32      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// encode serializes the request to its framed wire message: the fixed
// 32-byte header/length/trailer block followed by the NUL-terminated
// JSON payload.
func (r rpcRequest) encode() ([]byte, error) {
	payload, err := json.Marshal(wireRequest{
		JSONRPC: "2.0",
		ID:      r.ID,
		Method:  r.Method,
		Params:  r.Params,
	})
	if err != nil {
		return nil, err
	}
	payload = append(payload, 0x00)

	out := make([]byte, 0, handshakeLen+len(payload))
	out = append(out, rpcHeader...)
	lenBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBuf, uint16(len(payload)))
	out = append(out, lenBuf...)
	out = append(out, rpcTrailer...)
	out = append(out, payload...)
	return out, nil
}

// rpcCodec frames outbound requests and reassembles inbound responses
// over a handshake-filtered transport. It owns the strictly-monotonic
// request sequence counter (spec.md I3).
type rpcCodec struct {
	t   rawTransport
	hs  *handshakeFilter
	seq uint32
}

func newRPCCodec(t rawTransport, hs *handshakeFilter) *rpcCodec {
	return &rpcCodec{t: t, hs: hs}
}

// nextSeq advances the sequence counter and returns the value to use for
// the request about to be composed. It advances exactly once per call,
// regardless of what happens to the request afterward (spec.md I3).
func (c *rpcCodec) nextSeq() uint32 {
	id := c.seq
	c.seq++
	return id
}

// transferOut composes method/params into a wire message, acks the
// init-response signature as a start-of-command marker, and sends it.
func (c *rpcCodec) transferOut(method string, params interface{}) error {
	req := rpcRequest{Method: method, Params: params, ID: c.nextSeq()}
	wire, err := req.encode()
	if err != nil {
		return err
	}
	// the device uses an init-response ack as a start-of-command marker
	// ahead of every request
	if err := c.hs.ackInitSignature(); err != nil {
		return err
	}
	return c.t.send(wire)
}

// transferIn reads and decodes one RPC response, transparently discarding
// and re-reading camera-initiated dxo_usb_flush_forced interrupts until a
// real response arrives. A malformed or truncated response yields
// (nil, nil): spec.md §4.3/§7 treat parse failure as "none", not an
// error, because flush/noise on this channel is common.
func (c *rpcCodec) transferIn() (map[string]interface{}, error) {
	for {
		resp, err := c.readOneResponse()
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, nil
		}
		if method, _ := resp["method"].(string); method == "dxo_usb_flush_forced" {
			continue
		}
		return resp, nil
	}
}

// readOneResponse reads a single length-prefixed response frame,
// following spec.md §4.3's reassembly rules, including the mid-stream
// init-signature termination case documented in spec.md §9 open question
// 2: an intermediate raw read that turns out to be the init signature is
// acked and ends reassembly early, handing the (now truncated) buffer to
// the JSON decoder, which naturally fails and yields (nil, nil).
func (c *rpcCodec) readOneResponse() (map[string]interface{}, error) {
	first, err := c.hs.read(packetSize)
	if err != nil {
		return nil, err
	}
	if len(first) < handshakeLen {
		return nil, nil
	}
	length := int(binary.LittleEndian.Uint16(first[8:10]))
	if length == 0 {
		return nil, nil
	}

	buf := make([]byte, length)
	n := copy(buf, first[handshakeLen:])

	for n < length {
		raw, err := c.t.recv(packetSize)
		if err != nil {
			return nil, err
		}
		if isInitSignature(raw) {
			if err := c.hs.ackInitSignature(); err != nil {
				return nil, err
			}
			break
		}
		remaining := length - n
		if len(raw) > remaining {
			// buffer overrun: the declared length was smaller than the
			// bytes the camera actually sent for this frame
			return nil, nil
		}
		n += copy(buf[n:], raw)
	}

	return decodeResponse(buf[:n])
}

// decodeResponse strips NUL bytes, trims whitespace, and decodes the
// remaining text as a JSON object. A decode failure is reported as
// (nil, nil), not an error, per spec.md §7.
func decodeResponse(buf []byte) (map[string]interface{}, error) {
	stripped := bytes.ReplaceAll(buf, []byte{0x00}, nil)
	stripped = bytes.TrimSpace(stripped)
	if len(stripped) == 0 {
		return nil, nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(stripped, &obj); err != nil {
		return nil, nil
	}
	return obj, nil
}
