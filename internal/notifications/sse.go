package notifications

import (
	"errors"
	"net/http"
	"time"
)

var (
	ssePrefix    = []byte("data: ")
	sseTerm      = []byte("\n\n")
	sseHeartbeat = []byte(": ping\n\n")
)

// encodeSSEFrame wraps a JSON payload in a single server-sent event frame.
// json.Marshal never emits raw newlines, so one data line is enough.
func encodeSSEFrame(payload []byte) []byte {
	frame := make([]byte, 0, len(ssePrefix)+len(payload)+len(sseTerm))
	frame = append(frame, ssePrefix...)
	frame = append(frame, payload...)
	return append(frame, sseTerm...)
}

// sseTransport writes event-stream frames to an HTTP response.
type sseTransport struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration
}

func newSSETransport(w http.ResponseWriter, writeTimeout time.Duration) *sseTransport {
	return &sseTransport{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
	}
}

// start sends the stream headers. The server-wide write timeout is cleared
// for this response; each frame gets its own deadline instead.
func (t *sseTransport) start() error {
	h := t.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	if err := t.rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	t.w.WriteHeader(http.StatusOK)
	return t.rc.Flush()
}

func (t *sseTransport) Send(payload []byte) error {
	return t.write(encodeSSEFrame(payload))
}

func (t *sseTransport) Ping() error {
	return t.write(sseHeartbeat)
}

// Close is a no-op: the response is released when the handler returns.
func (t *sseTransport) Close() error {
	return nil
}

func (t *sseTransport) write(frame []byte) error {
	if t.writeTimeout > 0 {
		if err := t.rc.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}
	if _, err := t.w.Write(frame); err != nil {
		return err
	}
	return t.rc.Flush()
}
