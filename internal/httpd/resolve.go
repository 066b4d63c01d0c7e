package httpd

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
)

// Kind classifies what a request target resolved to.
type Kind int

const (
	// Missing covers absent entries, special files and anything outside root.
	Missing Kind = iota
	// RegularFile is served with its bytes.
	RegularFile
	// Directory is redirected or listed depending on the trailing slash.
	Directory
)

func (k Kind) String() string {
	switch k {
	case RegularFile:
		return "file"
	case Directory:
		return "directory"
	default:
		return "missing"
	}
}

// Target is a request path resolved against the document root.
type Target struct {
	Kind Kind
	Path string // canonical filesystem path, empty when Missing
}

// canonicalRoot returns the absolute, symlink-free form of root.
func canonicalRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", root)
	}
	return resolved, nil
}

// resolve maps the URL path p onto the canonical root. Anything that would
// land outside root, including through symlinks, resolves to Missing.
// A non-nil error means the filesystem failed for a reason other than the
// entry not existing.
func resolve(root, p string) (Target, error) {
	decoded, err := url.PathUnescape(p)
	if err != nil || strings.IndexByte(decoded, 0) >= 0 {
		return Target{Kind: Missing}, nil
	}

	// Cleaning against "/" drops every ".." that would climb above root.
	clean := path.Clean("/" + decoded)
	candidate := filepath.Join(root, filepath.FromSlash(clean))

	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if notFound(err) {
			return Target{Kind: Missing}, nil
		}
		return Target{}, err
	}
	if !within(root, resolved) {
		return Target{Kind: Missing}, nil
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if notFound(err) {
			return Target{Kind: Missing}, nil
		}
		return Target{}, err
	}

	switch {
	case info.IsDir():
		return Target{Kind: Directory, Path: resolved}, nil
	case info.Mode().IsRegular():
		return Target{Kind: RegularFile, Path: resolved}, nil
	default:
		// Sockets, devices and pipes are never served.
		return Target{Kind: Missing}, nil
	}
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func notFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
