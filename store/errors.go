package store

import "github.com/pkg/errors"

// ErrCorrupt is returned (wrapped) whenever the store's magic, version,
// or file sizes don't match what the header declares, per spec.md §4.1.
var ErrCorrupt = errors.New("store: corrupt store")

func corruptf(format string, args ...any) error {
	return errors.Wrapf(ErrCorrupt, format, args...)
}
