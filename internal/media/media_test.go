package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

type fakeDownloader struct {
	content []byte
	err     error
	keys    []string
}

func (d *fakeDownloader) DownloadFile(_ context.Context, objectName, filePath string) error {
	d.keys = append(d.keys, objectName)
	if d.err != nil {
		// Leave a partial file behind to check cleanup.
		os.WriteFile(filePath, []byte("partial"), 0o644)
		return d.err
	}
	return os.WriteFile(filePath, d.content, 0o644)
}

func TestFetchMaterializesArtifact(t *testing.T) {
	dir := t.TempDir()
	d := &fakeDownloader{content: []byte("OggS-audio-bytes")}
	f := NewStorageFetcher(d, dir, logging.NewNopLogger())

	a, err := f.Fetch(context.Background(), models.MediaRef{Key: "uploads/1/voice", Kind: models.MediaKindVoice})
	require.NoError(t, err)
	assert.Equal(t, int64(16), a.Size)
	assert.Equal(t, ".ogg", filepath.Ext(a.Path))
	assert.Equal(t, []string{"uploads/1/voice"}, d.keys)
	assert.FileExists(t, a.Path)

	require.NoError(t, a.Release())
	require.NoError(t, a.Release())
	assert.NoFileExists(t, a.Path)
}

func TestFetchCleansUpOnFailure(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("no such key")
	f := NewStorageFetcher(&fakeDownloader{err: boom}, dir, logging.NewNopLogger())

	_, err := f.Fetch(context.Background(), models.MediaRef{Key: "missing", Kind: models.MediaKindAudio})
	assert.ErrorIs(t, err, boom)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchRejectsInvalidRef(t *testing.T) {
	f := NewStorageFetcher(&fakeDownloader{}, t.TempDir(), logging.NewNopLogger())

	_, err := f.Fetch(context.Background(), models.MediaRef{Key: "", Kind: models.MediaKindAudio})
	assert.ErrorIs(t, err, ErrInvalidRef)

	_, err = f.Fetch(context.Background(), models.MediaRef{Key: "k", Kind: "document"})
	assert.ErrorIs(t, err, ErrInvalidRef)
}

func TestArtifactReleaseRunsOnce(t *testing.T) {
	calls := 0
	a := NewArtifact("/nonexistent", 0, models.MediaKindAudio, func() error {
		calls++
		return nil
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, a.Release())
	}
	assert.Equal(t, 1, calls)
}

// fakeProbe writes a script that prints out and exits with code
func fakeProbe(t *testing.T, out string, code int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script probe not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "ffprobe")
	script := "#!/bin/sh\ncat <<'JSON'\n" + out + "\nJSON\nexit " + strconv.Itoa(code) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestProbeParsesDuration(t *testing.T) {
	p := NewFFprobe(fakeProbe(t, `{"format": {"duration": "93.480000"}}`, 0))

	seconds, err := p.Probe(context.Background(), "voice.ogg")
	require.NoError(t, err)
	assert.InDelta(t, 93.48, seconds, 1e-9)
}

func TestProbeUnknownDuration(t *testing.T) {
	for _, d := range []string{"N/A", "nan", "NaN", "inf", "-Inf", "-1"} {
		p := NewFFprobe(fakeProbe(t, `{"format": {"duration": "`+d+`"}}`, 0))

		_, err := p.Probe(context.Background(), "voice.ogg")
		assert.ErrorIs(t, err, ErrUnknownDuration, d)
	}
}

func TestProbeCommandFailure(t *testing.T) {
	p := NewFFprobe(fakeProbe(t, `garbage`, 1))

	_, err := p.Probe(context.Background(), "voice.ogg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffprobe failed")
}
