package builder

import "github.com/pkg/errors"

// ErrFeedInconsistent is wrapped and returned for the conditions spec.md
// §4.2 names: self-referential transfers, non-monotonic stop times
// within a trip, or unreferenced service ids.
var ErrFeedInconsistent = errors.New("builder: feed inconsistent")

func inconsistentf(format string, args ...any) error {
	return errors.Wrapf(ErrFeedInconsistent, format, args...)
}

// IsFeedInconsistent reports whether err (or something it wraps) is
// ErrFeedInconsistent, for collaborators mapping it to an exit code or
// status code without needing to import this package's internals.
func IsFeedInconsistent(err error) bool {
	return errors.Is(err, ErrFeedInconsistent)
}
