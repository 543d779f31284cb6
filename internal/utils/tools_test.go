package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := EncryptPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	ok, err := VerifyPassword(hash, "s3cret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword(hash, "wrong")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestFileSHA256(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.bin")
	content := []byte("contenu du document")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	got, err := FileSHA256(path)
	require.NoError(t, err)

	want := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(want[:]), got)

	_, err = FileSHA256(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestShortAgentHash(t *testing.T) {
	h := ShortAgentHash("Mozilla/5.0")
	assert.Len(t, h, 8)
	assert.Equal(t, h, ShortAgentHash("Mozilla/5.0"))

	// Only the first 64 bytes participate.
	long := strings.Repeat("a", 64)
	assert.Equal(t, ShortAgentHash(long), ShortAgentHash(long+"tail"))
	assert.NotEqual(t, ShortAgentHash(long), ShortAgentHash("b"+long[1:]))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"document.pdf", "document.pdf"},
		{"../../etc/passwd", "passwd"},
		{"/tmp/abs/path.pdf", "path.pdf"},
		{"  spaced.pdf  ", "spaced.pdf"},
		{".", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), tt.in)
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.pdf")
	dst := filepath.Join(dir, "nested", "dst.pdf")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))

	require.NoError(t, CopyFile(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}
