package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// captureWriter records a response in memory so a wrapping handler can
// reshape it before answering the client.
type captureWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

// Header returns the recorded header map.
func (c *captureWriter) Header() http.Header {
	return c.header
}

// WriteHeader records the status.
func (c *captureWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
}

// Write records body bytes.
func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(p)
}

// decode unmarshals the recorded body.
func (c *captureWriter) decode(v any) error {
	return json.Unmarshal(c.body.Bytes(), v)
}

// copyCapture replays a recorded response onto the real writer.
func copyCapture(w http.ResponseWriter, c *captureWriter) {
	for name, values := range c.header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(c.body.Bytes())
}
