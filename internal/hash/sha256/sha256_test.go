package sha256

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestHasherHash(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, helloDigest, got)

	other, err := h.Hash([]byte("role_page_url,founder_name\n"))
	require.NoError(t, err)
	require.NotEqual(t, got, other)
}

func TestHasherHashReaderMatchesHash(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.HashReader(strings.NewReader("hello world"))
	require.NoError(t, err)
	require.Equal(t, helloDigest, got)

	big := bytes.Repeat([]byte("x"), 1<<20)
	want, err := h.Hash(big)
	require.NoError(t, err)
	got, err = h.HashReader(bytes.NewReader(big))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestHasherHashReaderError(t *testing.T) {
	t.Parallel()

	_, err := New().HashReader(brokenReader{})
	require.ErrorContains(t, err, "disk gone")
}
