// Package responsewriter wraps an http.ResponseWriter to observe the response
// status written by the handlers behind it.
package responsewriter

import "net/http"

// Recorder remembers the status code of the response. It defaults to 200,
// which is what the server sends when a handler never calls WriteHeader.
type Recorder struct {
	http.ResponseWriter

	status int
}

// Wrap returns a Recorder around w.
func Wrap(w http.ResponseWriter) *Recorder {
	return &Recorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *Recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Status returns the status code sent, or 200 when none was set explicitly.
func (r *Recorder) Status() int {
	return r.status
}

// Unwrap gives http.ResponseController access to the underlying writer.
func (r *Recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
