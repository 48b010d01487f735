//go:build !linux && !darwin

package storage

import (
	"github.com/pkg/errors"

	"sirixdb/internal/bytepipe"
)

// NewMMapReader is unavailable on this platform and always returns an
// error; read transactions opened with WithMMap fail with it.
func NewMMapReader(dataPath, revisionsPath string, pipe *bytepipe.Pipeline) (Reader, error) {
	return nil, errors.New("storage: memory-mapped reader not supported on this platform")
}
