package httpd

import (
	"bufio"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atikulmunna/spindle/internal/accesslog"
	"github.com/atikulmunna/spindle/internal/contenttype"
	"github.com/atikulmunna/spindle/internal/listing"
)

// maxRequestLine caps the request line, terminator included.
const maxRequestLine = 8 << 10

// loggedPrefix is how much of an oversized request line reaches the log.
const loggedPrefix = 64

var errLineTooLong = errors.New("request line too long")

// Recorder receives one access record per answered request.
type Recorder interface {
	Record(r accesslog.Record)
}

// Handler answers exactly one request per connection.
type Handler struct {
	root         string // canonical document root
	log          Recorder
	exclude      []string
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewHandler returns a Handler serving files under root, which must already
// be canonical (absolute, symlinks resolved).
func NewHandler(root string, rec Recorder, cfg Config) *Handler {
	return &Handler{
		root:         root,
		log:          rec,
		exclude:      cfg.Exclude,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
	}
}

// Serve reads the request line from conn, writes one response and closes
// conn. Only the first line is read; headers and body are discarded with
// the connection.
func (h *Handler) Serve(conn net.Conn) {
	defer conn.Close()

	if h.readTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}

	line, err := readRequestLine(conn)
	tooLong := errors.Is(err, errLineTooLong)
	if line == "" && !tooLong {
		if err != nil && !errors.Is(err, io.EOF) {
			log.Printf("httpd: read request from %s: %v", conn.RemoteAddr(), err)
		}
		return
	}

	if h.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	}

	w := bufio.NewWriter(conn)
	var rec accesslog.Record
	if tooLong {
		writeStatus(w, http.StatusBadRequest)
		rec = accesslog.Record{Target: line, Status: http.StatusBadRequest, Detail: errLineTooLong.Error()}
	} else {
		rec = h.respond(w, line)
	}
	if err := w.Flush(); err != nil {
		log.Printf("httpd: write response to %s: %v", conn.RemoteAddr(), err)
		rec.Detail = "write response: " + err.Error()
	}

	rec.Client = clientIP(conn.RemoteAddr())
	h.log.Record(rec)
}

// readRequestLine returns the first line without its LF or CRLF terminator.
// A final line cut short by EOF is still returned. A line longer than
// maxRequestLine yields errLineTooLong and only its first loggedPrefix bytes.
func readRequestLine(r io.Reader) (string, error) {
	b, err := bufio.NewReaderSize(r, maxRequestLine).ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return string(b[:loggedPrefix]), errLineTooLong
	}
	line := strings.TrimSuffix(string(b), "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, err
}

func (h *Handler) respond(w io.Writer, line string) accesslog.Record {
	tokens := strings.Split(line, " ")
	if len(tokens) < 2 || strings.ContainsAny(line, "\r\x00") {
		writeStatus(w, http.StatusBadRequest)
		return accesslog.Record{Target: line, Status: http.StatusBadRequest, Detail: "malformed request line"}
	}

	method, target := tokens[0], tokens[1]
	if method != http.MethodGet {
		writeStatus(w, http.StatusNotImplemented)
		return accesslog.Record{Target: target, Status: http.StatusNotImplemented}
	}
	return h.get(w, target)
}

func (h *Handler) get(w io.Writer, target string) accesslog.Record {
	urlPath, query, hasQuery := strings.Cut(target, "?")

	t, err := resolve(h.root, urlPath)
	if err != nil {
		return h.fail(w, target, err)
	}

	switch t.Kind {
	case Directory:
		if !strings.HasSuffix(urlPath, "/") {
			location := urlPath + "/"
			if hasQuery {
				location += "?" + query
			}
			writeResponse(w, http.StatusMovedPermanently, []header{{"Location", location}}, nil)
			return accesslog.Record{Target: target, Status: http.StatusMovedPermanently, Detail: "Moved Permanently to " + location}
		}

		entries, err := os.ReadDir(t.Path)
		if err != nil {
			return h.fail(w, target, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		names = listing.Filter(names, h.exclude)

		hasParent := t.Path != h.root
		body := []byte(listing.Render(names, hasParent))
		return h.ok(w, target, "text/html", body)

	case RegularFile:
		body, err := os.ReadFile(t.Path)
		if err != nil {
			return h.fail(w, target, err)
		}
		return h.ok(w, target, contenttype.Resolve(t.Path), body)

	default:
		writeStatus(w, http.StatusNotFound)
		return accesslog.Record{Target: target, Status: http.StatusNotFound}
	}
}

func (h *Handler) ok(w io.Writer, target, contentType string, body []byte) accesslog.Record {
	writeResponse(w, http.StatusOK, []header{
		{"Content-Length", strconv.Itoa(len(body))},
		{"Content-Type", contentType},
	}, body)
	return accesslog.Record{
		Target: target,
		Status: http.StatusOK,
		Detail: accesslog.ServedDetail(len(body)),
	}
}

// fail answers 500. The error text goes to the access log only.
func (h *Handler) fail(w io.Writer, target string, err error) accesslog.Record {
	writeStatus(w, http.StatusInternalServerError)
	return accesslog.Record{Target: target, Status: http.StatusInternalServerError, Detail: err.Error()}
}

func clientIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
