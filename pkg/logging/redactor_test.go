package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedcells/favarch/pkg/logging"
)

func TestRedactingWriter(t *testing.T) {
	var buf bytes.Buffer
	w := logging.NewRedactingWriter(&buf, "/srv/archive", []string{"somewatcher"})

	msg := "fetched faves of somewatcher under /srv/archive with token " +
		strings.Repeat("ab", 20)

	n, err := w.Write([]byte(msg))
	require.NoError(t, err)
	assert.Equal(t, len(msg), n, "reported length must match the input")

	out := buf.String()
	assert.NotContains(t, out, "somewatcher")
	assert.NotContains(t, out, "/srv/archive")
	assert.NotContains(t, out, strings.Repeat("ab", 20))
	assert.Contains(t, out, "[USER]")
	assert.Contains(t, out, "[ARCHIVE_ROOT]")
	assert.Contains(t, out, "[SESSION]")
}

func TestRedactingWriterPassesPlainText(t *testing.T) {
	var buf bytes.Buffer
	w := logging.NewRedactingWriter(&buf, "", nil)

	_, err := w.Write([]byte("nothing secret here"))
	require.NoError(t, err)
	assert.Equal(t, "nothing secret here", buf.String())
}
