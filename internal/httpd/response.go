package httpd

import (
	"fmt"
	"io"
	"net/http"
)

type header struct {
	name  string
	value string
}

// writeResponse writes a complete HTTP/1.1 response. Headers are written in
// the order given; every line ends in CRLF.
func writeResponse(w io.Writer, status int, headers []header, body []byte) error {
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status)); err != nil {
		return err
	}
	for _, h := range headers {
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", h.name, h.value); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return err
}

// writeStatus writes a header-less response with an empty body.
func writeStatus(w io.Writer, status int) error {
	return writeResponse(w, status, nil, nil)
}
