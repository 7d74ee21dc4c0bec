package server

import (
	"bytes"
	"io"
	"net/http"
)

// ServeHTTP lets a Service be mounted on a standard net/http server.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handle(r.Context(), r).Send(w)
}

// Send writes resp through a ResponseWriter.
func (resp *Response) Send(w http.ResponseWriter) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
}

// httpResponse builds the wire form of resp for req. The connection is
// always closed after it is written.
func (resp *Response) httpResponse(req *http.Request) *http.Response {
	hr := &http.Response{
		StatusCode:    resp.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		ContentLength: int64(len(resp.Body)),
		Close:         true,
		Request:       req,
	}
	if resp.ContentType != "" {
		hr.Header.Set("Content-Type", resp.ContentType)
	}
	if len(resp.Body) > 0 {
		hr.Body = io.NopCloser(bytes.NewReader(resp.Body))
	}
	return hr
}
