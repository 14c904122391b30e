package logging

import (
	"io"
	"regexp"
	"strings"
)

// sessionTokenRegex matches long hex strings typical of session cookies.
var sessionTokenRegex = regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`)

// RedactingWriter is an io.Writer that redacts sensitive information before
// writing to an underlying writer.
type RedactingWriter struct {
	underlying   io.Writer
	replacements map[*regexp.Regexp]string
}

// NewRedactingWriter creates a writer that strips session tokens, the archive
// root path and the watched account names from everything written through it.
func NewRedactingWriter(w io.Writer, archiveRoot string, users []string) io.Writer {
	replacements := make(map[*regexp.Regexp]string)
	replacements[sessionTokenRegex] = "[SESSION]"

	if archiveRoot != "" {
		sanitized := strings.ReplaceAll(regexp.QuoteMeta(archiveRoot), `\\`, `[/\\]`)
		replacements[regexp.MustCompile(sanitized)] = "[ARCHIVE_ROOT]"
	}
	for _, user := range users {
		if user != "" {
			replacements[regexp.MustCompile(regexp.QuoteMeta(user))] = "[USER]"
		}
	}

	return &RedactingWriter{
		underlying:   w,
		replacements: replacements,
	}
}

// Write redacts the input byte slice and writes it to the underlying writer.
// The reported length is that of the original input so callers never see a
// short write when the redacted message shrinks.
func (rw *RedactingWriter) Write(p []byte) (n int, err error) {
	message := string(p)
	for re, repl := range rw.replacements {
		message = re.ReplaceAllString(message, repl)
	}
	if _, err := rw.underlying.Write([]byte(message)); err != nil {
		return 0, err
	}
	return len(p), nil
}
