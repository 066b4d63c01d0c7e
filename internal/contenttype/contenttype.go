// Package contenttype maps file names to the MIME types sent in responses.
package contenttype

import "strings"

// Default is returned for names that match no known suffix.
const Default = "application/octet-stream"

var table = []struct {
	suffix string
	mime   string
}{
	{".html", "text/html"},
	{".htm", "text/html"},
	{".pdf", "application/pdf"},
	{".docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	{".txt", "text/plain"},
	{".jpg", "image/jpeg"},
	{".jpeg", "image/jpeg"},
	{".png", "image/png"},
	{".gif", "image/gif"},
	{".css", "text/css"},
}

// Resolve returns the content type for name. Matching is a case-insensitive
// suffix test; the first rule in the table wins.
func Resolve(name string) string {
	lower := strings.ToLower(name)
	for _, r := range table {
		if strings.HasSuffix(lower, r.suffix) {
			return r.mime
		}
	}
	return Default
}
