package wal

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
)

// Prune removes the segments of dir whose id is below keepFrom, typically
// the id returned by Writer.Rotate after a snapshot covered them. It
// returns how many segments were removed.
func Prune(dir string, keepFrom uint64) (int, error) {
	segs, err := listSegments(dir)
	if err != nil {
		return 0, err
	}
	var errs *multierror.Error
	removed := 0
	for _, seg := range segs {
		if seg.id >= keepFrom {
			break
		}
		if err := os.Remove(seg.path); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("wal: remove segment %d: %w", seg.id, err))
			continue
		}
		removed++
	}
	return removed, errs.ErrorOrNil()
}

// Size returns the total size of the segments in dir.
func Size(dir string) (int64, error) {
	segs, err := listSegments(dir)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, seg := range segs {
		n += seg.size
	}
	return n, nil
}
