package slot

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/internal/testoutput"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/platform"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSink(t *testing.T) *Sink {
	return New(testoutput.Logger(t, "slot"), filepath.Join(t.TempDir(), "slot"))
}

func stagingFiles(t *testing.T, s *Sink) []string {
	files, err := filepath.Glob(filepath.Join(s.Dir(), stagingPattern))
	require.NoError(t, err)
	return files
}

func TestCommitActivates(t *testing.T) {
	s := testSink(t)
	image := []byte(strings.Repeat("firmware", 1024))

	w, err := s.Begin()
	require.NoError(t, err)
	_, err = w.Write(image[:100])
	require.NoError(t, err)
	_, err = w.Write(image[100:])
	require.NoError(t, err)
	require.NoError(t, w.Commit(int64(len(image))))

	got, err := os.ReadFile(s.Active())
	require.NoError(t, err)
	assert.Equal(t, image, got)

	sum := sha256.Sum256(image)
	digest, err := Digest(s.Active())
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(sum[:]), digest)

	recorded, err := os.ReadFile(s.Active() + DigestSuffix)
	require.NoError(t, err)
	assert.Equal(t, digest, strings.TrimSpace(string(recorded)))
	assert.Empty(t, stagingFiles(t, s))
}

func TestCommitUnknownLength(t *testing.T) {
	s := testSink(t)
	w, err := s.Begin()
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, w.Commit(-1))
}

func TestVerificationFailureKeepsActiveImage(t *testing.T) {
	s := testSink(t)
	w, err := s.Begin()
	require.NoError(t, err)
	_, err = w.Write([]byte("v1"))
	require.NoError(t, err)
	require.NoError(t, w.Commit(2))

	t.Run("short", func(t *testing.T) {
		w, err := s.Begin()
		require.NoError(t, err)
		_, err = w.Write([]byte("v2-partial"))
		require.NoError(t, err)
		err = w.Commit(1000)
		assert.True(t, errors.Is(err, platform.ErrVerification), "got %v", err)
	})

	t.Run("empty", func(t *testing.T) {
		w, err := s.Begin()
		require.NoError(t, err)
		err = w.Commit(-1)
		assert.True(t, errors.Is(err, platform.ErrVerification), "got %v", err)
	})

	got, err := os.ReadFile(s.Active())
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))
	assert.Empty(t, stagingFiles(t, s))
}

func TestAbort(t *testing.T) {
	s := testSink(t)
	w, err := s.Begin()
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())
	require.NoError(t, w.Abort())

	_, err = os.Stat(s.Active())
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, stagingFiles(t, s))

	_, err = w.Write([]byte("more"))
	assert.Error(t, err)
}

func TestClean(t *testing.T) {
	s := testSink(t)
	_, err := s.Begin()
	require.NoError(t, err)
	_, err = s.Begin()
	require.NoError(t, err)
	require.Len(t, stagingFiles(t, s), 2)

	require.NoError(t, s.Clean())
	assert.Empty(t, stagingFiles(t, s))
}
