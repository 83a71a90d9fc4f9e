package ingress

import (
	"bytes"
	"io"
	"net/http"
)

// rawResponseWriter is an [http.ResponseWriter] that buffers a response in
// memory and serializes it onto a raw net.Conn via finish, for the
// CONNECT-terminated connections this package drives directly rather than
// through net/http's own server loop.
type rawResponseWriter struct {
	w          io.Writer
	header     http.Header
	statusCode int
	body       bytes.Buffer
	wroteHead  bool
}

func newRawResponseWriter(w io.Writer) *rawResponseWriter {
	return &rawResponseWriter{w: w, header: http.Header{}, statusCode: http.StatusOK}
}

func (r *rawResponseWriter) Header() http.Header { return r.header }

func (r *rawResponseWriter) Write(p []byte) (int, error) {
	if !r.wroteHead {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(p)
}

func (r *rawResponseWriter) WriteHeader(statusCode int) {
	if r.wroteHead {
		return
	}
	r.statusCode = statusCode
	r.wroteHead = true
}

// finish serializes the buffered status, headers, and body onto the
// underlying writer as an HTTP/1.1 response.
func (r *rawResponseWriter) finish() error {
	resp := &http.Response{
		StatusCode:    r.statusCode,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        r.header,
		Body:          io.NopCloser(bytes.NewReader(r.body.Bytes())),
		ContentLength: int64(r.body.Len()),
	}
	return resp.Write(r.w)
}
