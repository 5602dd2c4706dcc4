package send

import (
	"context"
	"errors"
	"strings"
)

// kind buckets an adapter failure for the retry loop.
type kind int

const (
	// kindTransient: adapter glitches worth a recovery action and retry.
	kindTransient kind = iota
	// kindFatal: caller input or auth problems; never retried.
	kindFatal
	// kindTimeout: the per-attempt deadline expired.
	kindTimeout
	// kindUnknown: anything else; retried without recovery.
	kindUnknown
)

// transientMarkers are substrings of engine error strings that indicate the
// automation layer wedged (evaluation, protocol, or target-closed failures).
var transientMarkers = []string{
	"evaluation failed",
	"protocol error",
	"target closed",
	"session closed",
	"execution context",
	"page crashed",
	"navigation",
}

// fatalMarkers map engine error substrings to the sentinel they should surface as.
var fatalMarkers = []struct {
	marker   string
	sentinel error
}{
	{"invalid wid", ErrInvalidDestination},
	{"invalid number", ErrInvalidDestination},
	{"unregistered", ErrInvalidDestination},
	{"empty message", ErrInvalidContent},
	{"not authenticated", ErrNotReady},
	{"not logged in", ErrNotReady},
}

// classify buckets an adapter error. For kindFatal the matching sentinel is
// returned as well.
func classify(err error) (kind, error) {
	if errors.Is(err, context.DeadlineExceeded) {
		return kindTimeout, nil
	}
	msg := strings.ToLower(err.Error())
	for _, f := range fatalMarkers {
		if strings.Contains(msg, f.marker) {
			return kindFatal, f.sentinel
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return kindTransient, nil
		}
	}
	return kindUnknown, nil
}
