package services

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestLocalStorageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := InitStorage(StorageConfig{UploadDir: dir, BaseURL: "http://localhost:8080/"})
	require.NoError(t, err)
	assert.False(t, st.IsUsingS3())
	st.now = func() time.Time { return time.Unix(0, 42) }

	url, err := st.UploadImage(bytes.NewReader(pngBytes(t)), "profiles")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/uploads/profiles/42.png", url)
	_, err = os.Stat(filepath.Join(dir, "profiles", "42.png"))
	require.NoError(t, err)

	require.NoError(t, st.DeleteImage(url))
	_, err = os.Stat(filepath.Join(dir, "profiles", "42.png"))
	assert.True(t, os.IsNotExist(err))

	// already gone, foreign and traversal URLs are ignored
	assert.NoError(t, st.DeleteImage(url))
	assert.NoError(t, st.DeleteImage("https://example.com/avatar.png"))
	assert.NoError(t, st.DeleteImage("http://localhost:8080/uploads/../secret"))
}

func TestUploadRejectsBadImages(t *testing.T) {
	st, err := InitStorage(StorageConfig{UploadDir: t.TempDir()})
	require.NoError(t, err)

	_, err = st.UploadImage(strings.NewReader("plain text, not an image"), "profiles")
	assert.ErrorIs(t, err, ErrUnsupportedType)

	big := append(pngBytes(t), bytes.Repeat([]byte{0}, MaxImageSize)...)
	_, err = st.UploadImage(bytes.NewReader(big), "profiles")
	assert.ErrorIs(t, err, ErrImageTooLarge)
}
