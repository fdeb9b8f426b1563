package snapshot

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/oklog/ulid/v2"

	"github.com/yndnr/rxcheckpoint/internal/storage"
	"github.com/yndnr/rxcheckpoint/pkg/crypto/adaptive"
)

const (
	filePrefix = "snapshot-"
	fileSuffix = ".snap"

	// DefaultRetain is the number of snapshots Prune keeps when Retain is
	// not set.
	DefaultRetain = 3
)

// Config configures a Manager.
type Config struct {
	Dir string

	// Retain is how many of the newest snapshots Prune keeps.
	Retain int

	// MaxAge additionally keeps snapshots younger than it. Zero disables.
	MaxAge time.Duration

	// Cipher seals the item section when set.
	Cipher adaptive.Cipher
}

// Manager owns the snapshot files of one directory.
type Manager struct {
	cfg Config
}

// NewManager creates cfg.Dir when needed.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, errors.New("snapshot: dir is required")
	}
	if cfg.Retain <= 0 {
		cfg.Retain = DefaultRetain
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	return &Manager{cfg: cfg}, nil
}

// Info describes one snapshot file.
type Info struct {
	ID        string    `json:"id"`
	Sequence  uint64    `json:"sequence"`
	ItemCount int       `json:"item_count"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
	Path      string    `json:"path" table:"wide"`
	Checksum  string    `json:"checksum,omitempty" table:"wide"`
}

// fileName orders by sequence first; the ulid breaks ties in creation
// order.
func fileName(seq uint64) string {
	return fmt.Sprintf("%s%020d-%s%s", filePrefix, seq, ulid.Make(), fileSuffix)
}

func parseFileName(name string) (seq uint64, ok bool) {
	rest, ok := strings.CutPrefix(name, filePrefix)
	if !ok || !strings.HasSuffix(rest, fileSuffix) {
		return 0, false
	}
	num, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, false
	}
	seq, err := strconv.ParseUint(num, 10, 64)
	return seq, err == nil
}

// Create writes st to a new file. The file appears under its final name
// only once it is complete and synced.
func (m *Manager) Create(st *storage.State) (*Info, error) {
	created := time.Now()
	name := fileName(st.Info().Sequence)
	final := filepath.Join(m.cfg.Dir, name)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("snapshot: create: %w", err)
	}
	defer os.Remove(tmp)

	sum, err := encodeState(f, st, created, m.cfg.Cipher)
	if err == nil {
		_, err = f.Write(sum)
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: write %s: %w", name, err)
	}

	fi, err := os.Stat(tmp)
	if err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, final); err != nil {
		return nil, fmt.Errorf("snapshot: rename: %w", err)
	}
	return &Info{
		ID:        strings.TrimSuffix(name, fileSuffix),
		Sequence:  st.Info().Sequence,
		ItemCount: st.Len(),
		CreatedAt: created,
		Size:      fi.Size(),
		Path:      final,
		Checksum:  hex.EncodeToString(sum),
	}, nil
}

// Load returns the newest snapshot that verifies. Damaged files are
// skipped in favour of older ones; any other failure is returned.
func (m *Manager) Load() (*storage.State, *Info, error) {
	infos, err := m.List()
	if err != nil {
		return nil, nil, err
	}
	for i := len(infos) - 1; i >= 0; i-- {
		st, info, err := m.read(infos[i].Path)
		switch {
		case err == nil:
			return st, info, nil
		case errors.Is(err, ErrChecksumMismatch), errors.Is(err, ErrInvalidMagic):
			continue
		default:
			return nil, nil, err
		}
	}
	return nil, nil, ErrNoSnapshots
}

func (m *Manager) read(path string) (*storage.State, *Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}

	n, sum, err := verifyTrailer(f, fi.Size())
	if err != nil {
		return nil, nil, err
	}
	st, hdr, err := decodeState(f, n, m.cfg.Cipher)
	if err != nil {
		return nil, nil, err
	}
	return st, &Info{
		ID:        strings.TrimSuffix(filepath.Base(path), fileSuffix),
		Sequence:  hdr.Sequence,
		ItemCount: hdr.Items,
		CreatedAt: time.UnixMilli(hdr.CreatedAt),
		Size:      fi.Size(),
		Path:      path,
		Checksum:  hex.EncodeToString(sum),
	}, nil
}

// List returns the snapshot files, oldest first. Only names and sizes are
// read; ItemCount and Checksum stay empty.
func (m *Manager) List() ([]*Info, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read dir: %w", err)
	}

	var infos []*Info
	for _, e := range entries {
		seq, ok := parseFileName(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, &Info{
			ID:        strings.TrimSuffix(e.Name(), fileSuffix),
			Sequence:  seq,
			CreatedAt: fi.ModTime(),
			Size:      fi.Size(),
			Path:      filepath.Join(m.cfg.Dir, e.Name()),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

// Prune removes snapshots outside the retention policy and returns how
// many it removed. The newest snapshot is always kept.
func (m *Manager) Prune() (int, error) {
	infos, err := m.List()
	if err != nil {
		return 0, err
	}
	cutoff := len(infos) - m.cfg.Retain
	var errs *multierror.Error
	removed := 0
	for _, info := range infos[:max(cutoff, 0)] {
		if m.cfg.MaxAge > 0 && time.Since(info.CreatedAt) < m.cfg.MaxAge {
			continue
		}
		if err := os.Remove(info.Path); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("snapshot: remove %s: %w", info.ID, err))
			continue
		}
		removed++
	}
	return removed, errs.ErrorOrNil()
}
