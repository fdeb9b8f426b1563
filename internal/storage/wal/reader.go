package wal

import (
	"github.com/yndnr/rxcheckpoint/pkg/crypto/adaptive"
)

// Replay calls fn, in log order, for every entry in dir whose sequence is
// greater than after. Damaged frames end their segment silently; an
// encrypted entry without a cipher and errors from fn stop the replay.
func Replay(dir string, cipher adaptive.Cipher, after uint64, fn func(*Entry) error) error {
	segs, err := listSegments(dir)
	if err != nil {
		return err
	}
	for _, seg := range segs {
		err := scanSegment(seg, cipher, func(e *Entry) error {
			if e.Sequence <= after {
				return nil
			}
			return fn(e)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadAll returns every intact entry in dir.
func ReadAll(dir string, cipher adaptive.Cipher) ([]*Entry, error) {
	var out []*Entry
	err := Replay(dir, cipher, 0, func(e *Entry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}
