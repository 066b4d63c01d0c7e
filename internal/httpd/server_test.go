package httpd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// fixture lays out the document root used by most tests:
//
//	root/index.html   "hello world!\n"
//	root/docs/a.txt
//	secret.txt        (outside root)
func fixture(t *testing.T) (root, logs string) {
	t.Helper()
	base := t.TempDir()
	root = filepath.Join(base, "root")
	logs = filepath.Join(base, "logs")

	mustWrite(t, filepath.Join(root, "index.html"), []byte("hello world!\n"))
	mustWrite(t, filepath.Join(root, "docs", "a.txt"), []byte("a"))
	mustWrite(t, filepath.Join(base, "secret.txt"), []byte("top secret"))
	return root, logs
}

func mustWrite(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

// startServer runs a server on an ephemeral loopback port.
func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	s.addr = "127.0.0.1:0"
	if err := s.Listen(); err != nil {
		t.Fatal(err)
	}
	go s.Serve()
	t.Cleanup(s.Stop)
	return s
}

// rawRequest sends line (plus CRLF) and returns everything the server wrote.
func rawRequest(t *testing.T, addr net.Addr, line string) []byte {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := io.WriteString(conn, line+"\r\n"); err != nil {
		t.Fatal(err)
	}
	raw, err := io.ReadAll(conn)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func request(t *testing.T, addr net.Addr, line string) response {
	t.Helper()
	raw := rawRequest(t, addr, line)
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
	if err != nil {
		t.Fatalf("bad response to %q: %v\n%s", line, err, raw)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return response{status: resp.StatusCode, header: resp.Header, body: body}
}

func TestScenario(t *testing.T) {
	root, logs := fixture(t)
	s := startServer(t, Config{DocumentRoot: root, LogDirectory: logs})

	resp := request(t, s.Addr(), "GET /index.html HTTP/1.1")
	if resp.status != 200 {
		t.Fatalf("GET /index.html: expected 200, got %d", resp.status)
	}
	if got := resp.header.Get("Content-Type"); got != "text/html" {
		t.Errorf("expected text/html, got %q", got)
	}
	if got := resp.header.Get("Content-Length"); got != "13" {
		t.Errorf("expected Content-Length 13, got %q", got)
	}
	if string(resp.body) != "hello world!\n" {
		t.Errorf("unexpected body %q", resp.body)
	}

	resp = request(t, s.Addr(), "GET /docs HTTP/1.1")
	if resp.status != 301 {
		t.Fatalf("GET /docs: expected 301, got %d", resp.status)
	}
	if got := resp.header.Get("Location"); got != "/docs/" {
		t.Errorf("expected Location /docs/, got %q", got)
	}
	if len(resp.body) != 0 {
		t.Errorf("expected empty redirect body, got %q", resp.body)
	}

	resp = request(t, s.Addr(), "GET /docs/ HTTP/1.1")
	if resp.status != 200 {
		t.Fatalf("GET /docs/: expected 200, got %d", resp.status)
	}
	if got := resp.header.Get("Content-Type"); got != "text/html" {
		t.Errorf("expected text/html, got %q", got)
	}
	if !bytes.Contains(resp.body, []byte(`<a href="a.txt">`)) {
		t.Errorf("listing missing a.txt link: %s", resp.body)
	}
	if !bytes.Contains(resp.body, []byte("goBack()\">Back</button>")) {
		t.Errorf("sub-directory listing should have a Back button: %s", resp.body)
	}

	resp = request(t, s.Addr(), "GET /missing.png HTTP/1.1")
	if resp.status != 404 || len(resp.body) != 0 {
		t.Errorf("GET /missing.png: expected empty 404, got %d %q", resp.status, resp.body)
	}

	resp = request(t, s.Addr(), "POST /index.html HTTP/1.1")
	if resp.status != 501 || len(resp.body) != 0 {
		t.Errorf("POST: expected empty 501, got %d %q", resp.status, resp.body)
	}
}

func TestExactWireFormat(t *testing.T) {
	root, logs := fixture(t)
	s := startServer(t, Config{DocumentRoot: root, LogDirectory: logs})

	cases := map[string]string{
		"GET /docs HTTP/1.1":          "HTTP/1.1 301 Moved Permanently\r\nLocation: /docs/\r\n\r\n",
		"GET /nope HTTP/1.1":          "HTTP/1.1 404 Not Found\r\n\r\n",
		"DELETE /index.html HTTP/1.1": "HTTP/1.1 501 Not Implemented\r\n\r\n",
		"GET /index.html HTTP/1.0":    "HTTP/1.1 200 OK\r\nContent-Length: 13\r\nContent-Type: text/html\r\n\r\nhello world!\n",
	}
	for line, want := range cases {
		if got := string(rawRequest(t, s.Addr(), line)); got != want {
			t.Errorf("%q: expected %q, got %q", line, want, got)
		}
	}
}

func TestNonGetMethods(t *testing.T) {
	root, logs := fixture(t)
	s := startServer(t, Config{DocumentRoot: root, LogDirectory: logs})

	for _, m := range []string{"POST", "PUT", "HEAD", "OPTIONS", "get"} {
		for _, target := range []string{"/", "/index.html", "/missing", "/docs"} {
			resp := request(t, s.Addr(), m+" "+target+" HTTP/1.1")
			if resp.status != 501 || len(resp.body) != 0 {
				t.Errorf("%s %s: expected empty 501, got %d %q", m, target, resp.status, resp.body)
			}
		}
	}
}

func TestTraversalIsRejected(t *testing.T) {
	root, logs := fixture(t)
	if err := os.Symlink(filepath.Join(root, "..", "secret.txt"), filepath.Join(root, "escape.txt")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, ".."), filepath.Join(root, "up")); err != nil {
		t.Fatal(err)
	}
	s := startServer(t, Config{DocumentRoot: root, LogDirectory: logs})

	for _, target := range []string{
		"/../secret.txt",
		"../secret.txt",
		"/docs/../../secret.txt",
		"/%2e%2e/secret.txt",
		"/..%2fsecret.txt",
		"/../../../../../../etc/passwd",
		"/escape.txt",
		"/up/secret.txt",
		"/up/",
	} {
		resp := request(t, s.Addr(), "GET "+target+" HTTP/1.1")
		if resp.status == 200 && !bytes.Contains(resp.body, []byte("Directory Listing")) {
			t.Errorf("%s: served content from outside the root: %q", target, resp.body)
		}
		if bytes.Contains(resp.body, []byte("top secret")) {
			t.Errorf("%s: leaked secret.txt", target)
		}
		if resp.status != 404 {
			t.Errorf("%s: expected 404, got %d", target, resp.status)
		}
	}
}

func TestSymlinkInsideRootIsServed(t *testing.T) {
	root, logs := fixture(t)
	if err := os.Symlink(filepath.Join(root, "docs", "a.txt"), filepath.Join(root, "alias.txt")); err != nil {
		t.Fatal(err)
	}
	s := startServer(t, Config{DocumentRoot: root, LogDirectory: logs})

	resp := request(t, s.Addr(), "GET /alias.txt HTTP/1.1")
	if resp.status != 200 || string(resp.body) != "a" {
		t.Errorf("expected 200 \"a\", got %d %q", resp.status, resp.body)
	}
}

func TestRedirectIsIdempotent(t *testing.T) {
	root, logs := fixture(t)
	mustWrite(t, filepath.Join(root, "docs", "deep", "b.txt"), []byte("b"))
	s := startServer(t, Config{DocumentRoot: root, LogDirectory: logs})

	for _, target := range []string{"/docs", "/docs/deep", "/docs/deep?sort=name"} {
		resp := request(t, s.Addr(), "GET "+target+" HTTP/1.1")
		if resp.status != 301 {
			t.Fatalf("%s: expected 301, got %d", target, resp.status)
		}
		loc := resp.header.Get("Location")
		follow := request(t, s.Addr(), "GET "+loc+" HTTP/1.1")
		if follow.status != 200 {
			t.Errorf("%s -> %s: expected 200, got %d", target, loc, follow.status)
		}
	}

	resp := request(t, s.Addr(), "GET /docs/deep?sort=name HTTP/1.1")
	if got := resp.header.Get("Location"); got != "/docs/deep/?sort=name" {
		t.Errorf("expected query to survive the redirect, got %q", got)
	}
}

func TestRootListingHasNoBackButton(t *testing.T) {
	root, logs := fixture(t)
	s := startServer(t, Config{DocumentRoot: root, LogDirectory: logs, Exclude: []string{"index.*"}})

	resp := request(t, s.Addr(), "GET / HTTP/1.1")
	if resp.status != 200 {
		t.Fatalf("expected 200, got %d", resp.status)
	}
	if bytes.Contains(resp.body, []byte("<button")) {
		t.Errorf("root listing should not have a Back button")
	}
	if !bytes.Contains(resp.body, []byte(`<a href="docs">`)) {
		t.Errorf("expected docs link: %s", resp.body)
	}
	if bytes.Contains(resp.body, []byte("index.html")) {
		t.Errorf("excluded entry listed: %s", resp.body)
	}
	if got := resp.header.Get("Content-Length"); got != fmt.Sprint(len(resp.body)) {
		t.Errorf("Content-Length %s does not match body length %d", got, len(resp.body))
	}

	// Excluded names stay servable by direct request.
	if resp := request(t, s.Addr(), "GET /index.html HTTP/1.1"); resp.status != 200 {
		t.Errorf("expected excluded file to be served, got %d", resp.status)
	}
}

func TestFileRoundTrip(t *testing.T) {
	root, logs := fixture(t)
	data := make([]byte, 256*1024)
	rand.New(rand.NewSource(1)).Read(data)
	mustWrite(t, filepath.Join(root, "blob.bin"), data)
	s := startServer(t, Config{DocumentRoot: root, LogDirectory: logs})

	resp := request(t, s.Addr(), "GET /blob.bin HTTP/1.1")
	if resp.status != 200 {
		t.Fatalf("expected 200, got %d", resp.status)
	}
	if got := resp.header.Get("Content-Length"); got != fmt.Sprint(len(data)) {
		t.Errorf("expected Content-Length %d, got %s", len(data), got)
	}
	if got := resp.header.Get("Content-Type"); got != "application/octet-stream" {
		t.Errorf("expected octet-stream, got %q", got)
	}
	if !bytes.Equal(resp.body, data) {
		t.Error("body does not match file bytes")
	}
}

func TestMalformedRequestLine(t *testing.T) {
	root, logs := fixture(t)
	s := startServer(t, Config{DocumentRoot: root, LogDirectory: logs})

	resp := request(t, s.Addr(), "GARBAGE")
	if resp.status != 400 {
		t.Errorf("expected 400, got %d", resp.status)
	}
}

func TestOversizedRequestLine(t *testing.T) {
	root, logs := fixture(t)
	s := startServer(t, Config{DocumentRoot: root, LogDirectory: logs})

	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	// No LF ever arrives; writes may fail once the server hangs up.
	go conn.Write(bytes.Repeat([]byte("A"), 4*maxRequestLine))

	raw, err := io.ReadAll(conn)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		t.Fatal("server kept reading an unterminated request line")
	}
	if len(raw) > 0 && !bytes.HasPrefix(raw, []byte("HTTP/1.1 400 ")) {
		t.Errorf("expected 400 or a bare close, got %q", raw)
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	lines := s.LoadAccessLogs()
	if len(lines) != 1 || !strings.HasSuffix(lines[0], " : 400 request line too long") {
		t.Errorf("expected one 400 log line, got %v", lines)
	}
}

func TestEmptyRequestIsNotLogged(t *testing.T) {
	root, logs := fixture(t)
	s := startServer(t, Config{DocumentRoot: root, LogDirectory: logs})

	if raw := rawRequest(t, s.Addr(), ""); len(raw) != 0 {
		t.Errorf("expected no response, got %q", raw)
	}

	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if lines := s.LoadAccessLogs(); len(lines) != 0 {
		t.Errorf("expected no log lines, got %v", lines)
	}
}

func TestUnreadableFileIs500(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	root, logs := fixture(t)
	locked := filepath.Join(root, "locked.txt")
	mustWrite(t, locked, []byte("nope"))
	if err := os.Chmod(locked, 0); err != nil {
		t.Fatal(err)
	}
	s := startServer(t, Config{DocumentRoot: root, LogDirectory: logs})

	resp := request(t, s.Addr(), "GET /locked.txt HTTP/1.1")
	if resp.status != 500 || len(resp.body) != 0 {
		t.Errorf("expected empty 500, got %d %q", resp.status, resp.body)
	}

	s.Shutdown(context.Background())
	lines := s.LoadAccessLogs()
	if len(lines) != 1 || !strings.Contains(lines[0], "/locked.txt : 500 ") {
		t.Errorf("expected logged failure, got %v", lines)
	}
}

func TestAccessLogLines(t *testing.T) {
	root, logs := fixture(t)
	s := startServer(t, Config{DocumentRoot: root, LogDirectory: logs})

	request(t, s.Addr(), "GET /index.html HTTP/1.1")
	request(t, s.Addr(), "GET /docs HTTP/1.1")
	request(t, s.Addr(), "GET /missing HTTP/1.1")
	request(t, s.Addr(), "POST / HTTP/1.1")

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"127.0.0.1 - /index.html : 200 OK 13 (13 B)",
		"127.0.0.1 - /docs : 301 Moved Permanently to /docs/",
		"127.0.0.1 - /missing : 404 Not Found",
		"127.0.0.1 - / : 501 Not Implemented",
	}
	lines := s.LoadAccessLogs()
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), lines)
	}
	for i, w := range want {
		if !strings.HasSuffix(lines[i], w) {
			t.Errorf("line %d: expected suffix %q, got %q", i, w, lines[i])
		}
	}
}

func TestConcurrentRequestsLogCleanly(t *testing.T) {
	root, logs := fixture(t)
	s := startServer(t, Config{DocumentRoot: root, LogDirectory: logs})

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := "/index.html"
			if i%2 == 0 {
				target = "/docs/a.txt"
			}
			conn, err := net.Dial("tcp", s.Addr().String())
			if err != nil {
				t.Error(err)
				return
			}
			defer conn.Close()
			io.WriteString(conn, "GET "+target+" HTTP/1.1\r\n")
			io.Copy(io.Discard, conn)
		}(i)
	}
	wg.Wait()

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	lines := s.LoadAccessLogs()
	if len(lines) != n {
		t.Fatalf("expected %d lines, got %d", n, len(lines))
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "[") || !strings.Contains(line, " : 200 OK ") {
			t.Errorf("malformed line %q", line)
		}
	}
}

func TestStopUnblocksAccept(t *testing.T) {
	root, logs := fixture(t)
	s, err := New(Config{DocumentRoot: root, LogDirectory: logs, Port: 8000})
	if err != nil {
		t.Fatal(err)
	}
	s.addr = "127.0.0.1:0"

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	deadline := time.Now().Add(2 * time.Second)
	for !s.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("server never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A second Start while running is a no-op.
	if err := s.Start(); err != nil {
		t.Errorf("second Start: expected nil, got %v", err)
	}

	s.Stop()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected clean exit, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("accept loop did not return after Stop")
	}

	if s.IsRunning() {
		t.Error("expected IsRunning false after Stop")
	}
	s.Stop()

	if err := s.Start(); !errors.Is(err, ErrServerClosed) {
		t.Errorf("expected ErrServerClosed, got %v", err)
	}
}

func TestStopFromAnotherGoroutine(t *testing.T) {
	root, logs := fixture(t)
	s := startServer(t, Config{DocumentRoot: root, LogDirectory: logs})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Stop()
		}()
	}
	wg.Wait()

	if _, err := net.DialTimeout("tcp", s.Addr().String(), time.Second); err == nil {
		t.Error("expected dial to fail after Stop")
	}
}

func TestBindError(t *testing.T) {
	root, logs := fixture(t)
	occupied, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer occupied.Close()
	port := occupied.Addr().(*net.TCPAddr).Port

	s, err := New(Config{DocumentRoot: root, LogDirectory: logs, Port: port})
	if err != nil {
		t.Fatal(err)
	}

	err = s.Start()
	var bindErr *BindError
	if !errors.As(err, &bindErr) {
		t.Fatalf("expected *BindError, got %v", err)
	}
	if bindErr.Port != port {
		t.Errorf("expected port %d, got %d", port, bindErr.Port)
	}
	if s.IsRunning() {
		t.Error("server must not be running after a bind failure")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	root, logs := fixture(t)

	cases := []Config{
		{DocumentRoot: root, LogDirectory: logs, Port: 0},
		{DocumentRoot: root, LogDirectory: logs, Port: 70000},
		{DocumentRoot: "", LogDirectory: logs, Port: 8000},
		{DocumentRoot: root, LogDirectory: "", Port: 8000},
		{DocumentRoot: filepath.Join(root, "nope"), LogDirectory: logs, Port: 8000},
		{DocumentRoot: filepath.Join(root, "index.html"), LogDirectory: logs, Port: 8000},
		{DocumentRoot: root, LogDirectory: logs, Port: 8000, MaxConns: -1},
	}
	for _, cfg := range cases {
		if _, err := New(cfg); err == nil {
			t.Errorf("expected error for %+v", cfg)
		}
	}
}

func TestMaxConnsBoundsHandlers(t *testing.T) {
	root, logs := fixture(t)
	s := startServer(t, Config{DocumentRoot: root, LogDirectory: logs, MaxConns: 1})

	// Occupy the only slot with a connection that never sends.
	idle, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	io.WriteString(conn, "GET /index.html HTTP/1.1\r\n")

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("second connection was served while the slot was taken")
	}

	idle.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("expected 200 once the slot freed up, got %d", resp.StatusCode)
	}
}

func TestShutdownExpiresIdleConnections(t *testing.T) {
	root, logs := fixture(t)
	s := startServer(t, Config{DocumentRoot: root, LogDirectory: logs})

	idle, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer idle.Close()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = s.Shutdown(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("shutdown took too long: %v", elapsed)
	}
}

func TestReadTimeoutClosesSilentClients(t *testing.T) {
	root, logs := fixture(t)
	s := startServer(t, Config{DocumentRoot: root, LogDirectory: logs, ReadTimeout: 100 * time.Millisecond})

	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	raw, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("expected server to close the connection, got %v", err)
	}
	if len(raw) != 0 {
		t.Errorf("expected no response, got %q", raw)
	}
}
