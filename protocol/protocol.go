// Package protocol implements the wire framing used by daemon-rpc transports.
//
// Two framings are supported:
//
//   - HTTP: one JSON envelope per POST body, Content-Type application/json,
//     HTTP Basic credentials on every request (see http.go).
//   - Stream: newline-delimited JSON over a TCP connection. encoding/json never emits
//     a raw newline inside a value, so a single '\n' is a safe frame terminator.
//
//	┌──────────────── frame ────────────────┐┌──────── frame ────────┐
//	│ {"method":"getblockcount","id":1,...} \n│ {"result":1,"id":1}   \n│
//	└───────────────────────────────────────┘└────────────────────────┘
package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single stream frame. Block payloads with verbosity 2 run to
// several megabytes, so the limit is generous.
const MaxFrameSize = 32 << 20

// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Encode writes one frame to w.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different requests will interleave and corrupt the stream.
func Encode(w io.Writer, body []byte) error {
	if bytes.IndexByte(body, '\n') >= 0 {
		body = compact(body)
	}
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 0, len(body)+1)
	buf = append(buf, body...)
	buf = append(buf, '\n')
	_, err := w.Write(buf)
	return err
}

// Decoder reads frames from a stream. It is not safe for concurrent use; a
// connection has exactly one reader.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64<<10)}
}

// Decode reads the next non-empty frame, without its terminator.
func (d *Decoder) Decode() ([]byte, error) {
	for {
		var frame []byte
		for {
			chunk, err := d.r.ReadSlice('\n')
			frame = append(frame, chunk...)
			if len(frame) > MaxFrameSize+1 {
				return nil, ErrFrameTooLarge
			}
			if err == bufio.ErrBufferFull {
				continue
			}
			if err != nil {
				if err == io.EOF && len(bytes.TrimSpace(frame)) > 0 {
					return nil, fmt.Errorf("truncated frame: %w", io.ErrUnexpectedEOF)
				}
				return nil, err
			}
			break
		}
		frame = bytes.TrimSpace(frame)
		if len(frame) > 0 {
			return frame, nil
		}
	}
}

// compact strips insignificant whitespace so pretty-printed JSON fits on one line.
func compact(body []byte) []byte {
	var out bytes.Buffer
	if err := json.Compact(&out, body); err != nil {
		return bytes.ReplaceAll(body, []byte("\n"), []byte(" "))
	}
	return out.Bytes()
}
