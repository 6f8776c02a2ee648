// Package store implements the on-disk binary timetable layout and its
// read-only, memory-mapped views, per spec.md §3 and §4.1. The persisted
// entities are immutable after the builder writes them; a Store opened
// for serving owns every mapped byte range, and the views it hands out
// borrow from it and must not outlive it.
package store

import (
	"os"
	"path/filepath"

	"time"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"github.com/farebox/farebox/binformat"
	"github.com/farebox/farebox/timeutil"
)

// Store is a memory-mapped, read-only view over a timetable directory.
// It is safe for concurrent use by many query goroutines: nothing in it
// mutates after Open returns, matching spec.md §5's "no mutable global
// state during serving".
type Store struct {
	dir    string
	header binformat.Header

	mapped map[string]mmap.MMap
	zones  []*zoneEntry

	strings stringTable
}

type zoneEntry struct {
	name string
	loc  *time.Location
}

// Open memory-maps every array file in dir and validates the header and
// per-file CRC32s. It fails with an error wrapping ErrCorrupt if the
// magic/version don't match or any file's size disagrees with the
// header's declared length.
func Open(dir string) (*Store, error) {
	headerFile, err := os.Open(filepath.Join(dir, "header"))
	if err != nil {
		return nil, errors.Wrap(err, "store: open header")
	}
	defer headerFile.Close()

	h, err := binformat.ReadHeader(headerFile)
	if err != nil {
		return nil, errors.WithStack(corruptf("reading header: %v", err))
	}

	s := &Store{
		dir:    dir,
		header: h,
		mapped: make(map[string]mmap.MMap, len(binformat.FileNames)),
	}

	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	for i, name := range binformat.FileNames {
		fd := h.Files[i]
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "store: open %s", name)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "store: stat %s", name)
		}
		if uint64(info.Size()) != fd.Length {
			f.Close()
			return nil, corruptf("%s: size %d does not match header length %d", name, info.Size(), fd.Length)
		}

		if info.Size() == 0 {
			f.Close()
			s.mapped[name] = mmap.MMap{}
			continue
		}

		m, err := mmap.Map(f, mmap.RDONLY, 0)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "store: mmap %s", name)
		}
		if binformat.CRC32(m) != fd.CRC32 {
			return nil, corruptf("%s: crc32 mismatch", name)
		}
		s.mapped[name] = m
	}

	if err := s.loadStringTables(); err != nil {
		return nil, err
	}

	ok = true
	return s, nil
}

// Close unmaps every file. After Close, any view borrowed from this Store
// must not be used again.
func (s *Store) Close() error {
	var first error
	for name, m := range s.mapped {
		if len(m) == 0 {
			continue
		}
		if err := m.Unmap(); err != nil && first == nil {
			first = errors.Wrapf(err, "store: unmap %s", name)
		}
	}
	s.mapped = nil
	return first
}

// EpochDay and HorizonDays describe the calendar coverage window written
// by the builder, per spec.md §4.2 step 6.
func (s *Store) EpochDay() timeutil.EpochDay { return timeutil.EpochDay(s.header.EpochDay) }
func (s *Store) HorizonDays() int            { return int(s.header.HorizonDays) }

func (s *Store) NumStops() int  { return int(s.header.NumStops) }
func (s *Store) NumRoutes() int { return int(s.header.NumRoutes) }
func (s *Store) NumTrips() int  { return int(s.header.NumTrips) }

func (s *Store) bytes(name string) []byte { return []byte(s.mapped[name]) }
