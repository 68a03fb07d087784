// Package mudmode implements the length-prefixed framing MudMode layers on
// top of the LPC text codec: each message on the wire is a 4-byte
// big-endian length followed by that many bytes of LPC text.
package mudmode

import (
	"encoding/binary"
	"io"

	"github.com/sirupsen/logrus"

	"i3gateway/internal/lpc"
)

// Framer reassembles MudMode messages out of arbitrary TCP read chunks. It
// is not safe for concurrent use; callers serialize Feed calls per
// connection, matching the single-reader-goroutine convention used
// throughout internal/upstream.
type Framer struct {
	log    logrus.FieldLogger
	buf    []byte
	expect int
	haveLen bool
}

// NewFramer returns a Framer that logs decode errors (but keeps consuming
// the offending frame, rather than erroring out the whole stream) through
// log. A nil log discards those messages.
func NewFramer(log logrus.FieldLogger) *Framer {
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &Framer{log: log}
}

// Feed appends newly-received bytes and returns every complete message that
// can now be decoded, in arrival order. A message whose LPC body fails to
// decode is logged and dropped — the frame is still consumed, so the
// stream does not desynchronize.
func (f *Framer) Feed(data []byte) []lpc.Value {
	f.buf = append(f.buf, data...)

	var messages []lpc.Value
	for {
		if !f.haveLen {
			if len(f.buf) < 4 {
				break
			}
			f.expect = int(binary.BigEndian.Uint32(f.buf[:4]))
			f.haveLen = true
		}

		if len(f.buf) < 4+f.expect {
			break
		}

		frame := f.buf[4 : 4+f.expect]
		f.buf = f.buf[4+f.expect:]
		f.haveLen = false

		value, err := lpc.Decode(frame)
		if err != nil {
			f.log.WithField("component", "mudmode").WithError(err).Warn("error decoding message")
			continue
		}
		messages = append(messages, value)
	}
	return messages
}

// Reset clears buffered partial-frame state, for use after a connection
// reset or close.
func (f *Framer) Reset() {
	f.buf = nil
	f.expect = 0
	f.haveLen = false
}

// EncodeFrame wraps an already-encoded LPC body with its 4-byte big-endian
// length prefix.
func EncodeFrame(body []byte) []byte {
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)
	return out
}

// Encode encodes v to LPC text and frames it for the wire.
func Encode(v lpc.Value) ([]byte, error) {
	body, err := lpc.Encode(v)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(body), nil
}
