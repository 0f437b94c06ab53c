// Package media fetches submitted files to local disk and measures them.
package media

import (
	"errors"
	"os"
	"sync"

	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

// Artifact is a locally materialized media file. Release removes it; only the
// first call has an effect.
type Artifact struct {
	Path string
	Size int64
	Kind models.MediaKind

	once    sync.Once
	release func() error
	err     error
}

// NewArtifact wraps a file at path. release may be nil to remove the file.
func NewArtifact(path string, size int64, kind models.MediaKind, release func() error) *Artifact {
	if release == nil {
		release = func() error {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			return nil
		}
	}
	return &Artifact{Path: path, Size: size, Kind: kind, release: release}
}

// Release deletes the local copy
func (a *Artifact) Release() error {
	a.once.Do(func() {
		a.err = a.release()
	})
	return a.err
}
