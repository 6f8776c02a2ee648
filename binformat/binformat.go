// Package binformat holds the on-disk layout primitives shared by the
// store reader and the builder writer: the root header, per-file CRC32,
// and alignment padding so that every flat array begins on its element's
// natural alignment.
package binformat

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

// Magic identifies a farebox timetable store. It is written as the first
// four bytes of the header file.
const Magic = "FBOX"

// Version is the current on-disk format version. Stores written by an
// older/newer builder are rejected rather than interpreted speculatively.
const Version uint32 = 1

// Endian is the fixed byte order for every numeric field in the store.
// Readers on big-endian hosts must byteswap on access; this package never
// does, since binary.LittleEndian already does the swap transparently on
// both host orders.
var Endian = binary.LittleEndian

// FileNames lists every array file alongside the header, in the order the
// spec's §6 External Interfaces enumerates them.
var FileNames = []string{
	"stops",
	"stop_routes",
	"routes",
	"route_stops",
	"stop_times",
	"trips",
	"transfers_idx",
	"transfers",
	"calendars",
	"timezones",
	"strings",
}

// Header is the root descriptor written as the `header` file. EpochDay is
// the date (days since the Unix epoch) the calendar bitsets start from;
// HorizonDays is how many days they cover, starting at EpochDay itself.
type Header struct {
	Magic       [4]byte
	Version     uint32
	EpochDay    int64
	HorizonDays uint32

	NumStops     uint32
	NumRoutes    uint32
	NumTrips     uint32
	NumTransfers uint32
	NumCalendars uint32
	NumTimezones uint32

	Files [len(FileNames)]FileDescriptor
}

// FileDescriptor locates one array file's bytes within the store
// directory and records its integrity checksum.
type FileDescriptor struct {
	Offset uint64
	Length uint64
	CRC32  uint32
}

// headerFixedSize is the byte size of everything in Header up to and
// excluding the Files array; kept in sync with WriteHeader/ReadHeader by
// hand since Header mixes fixed scalars with a fixed-size array of
// structs, neither of which binary.Write can be trusted to lay out
// identically across Go versions without an explicit writer.
const headerFixedSize = 4 + 4 + 8 + 4 + 4*6

const fileDescriptorSize = 8 + 8 + 4

// WriteHeader serializes h to w in the fixed little-endian layout.
func WriteHeader(w io.Writer, h Header) error {
	buf := make([]byte, headerFixedSize+len(h.Files)*fileDescriptorSize)
	copy(buf[0:4], h.Magic[:])
	Endian.PutUint32(buf[4:8], h.Version)
	Endian.PutUint64(buf[8:16], uint64(h.EpochDay))
	Endian.PutUint32(buf[16:20], h.HorizonDays)
	Endian.PutUint32(buf[20:24], h.NumStops)
	Endian.PutUint32(buf[24:28], h.NumRoutes)
	Endian.PutUint32(buf[28:32], h.NumTrips)
	Endian.PutUint32(buf[32:36], h.NumTransfers)
	Endian.PutUint32(buf[36:40], h.NumCalendars)
	Endian.PutUint32(buf[40:44], h.NumTimezones)

	off := headerFixedSize
	for _, fd := range h.Files {
		Endian.PutUint64(buf[off:off+8], fd.Offset)
		Endian.PutUint64(buf[off+8:off+16], fd.Length)
		Endian.PutUint32(buf[off+16:off+20], fd.CRC32)
		off += fileDescriptorSize
	}

	_, err := w.Write(buf)
	return errors.Wrap(err, "binformat: write header")
}

// ReadHeader deserializes a Header from r, validating the magic and
// version eagerly so callers can fail fast with ErrCorrupt-like context.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	n := headerFixedSize + len(h.Files)*fileDescriptorSize
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return h, errors.Wrap(err, "binformat: read header")
	}

	copy(h.Magic[:], buf[0:4])
	if string(h.Magic[:]) != Magic {
		return h, errors.Errorf("binformat: bad magic %q", h.Magic[:])
	}
	h.Version = Endian.Uint32(buf[4:8])
	if h.Version != Version {
		return h, errors.Errorf("binformat: unsupported version %d", h.Version)
	}
	h.EpochDay = int64(Endian.Uint64(buf[8:16]))
	h.HorizonDays = Endian.Uint32(buf[16:20])
	h.NumStops = Endian.Uint32(buf[20:24])
	h.NumRoutes = Endian.Uint32(buf[24:28])
	h.NumTrips = Endian.Uint32(buf[28:32])
	h.NumTransfers = Endian.Uint32(buf[32:36])
	h.NumCalendars = Endian.Uint32(buf[36:40])
	h.NumTimezones = Endian.Uint32(buf[40:44])

	off := headerFixedSize
	for i := range h.Files {
		h.Files[i].Offset = Endian.Uint64(buf[off : off+8])
		h.Files[i].Length = Endian.Uint64(buf[off+8 : off+16])
		h.Files[i].CRC32 = Endian.Uint32(buf[off+16 : off+20])
		off += fileDescriptorSize
	}
	return h, nil
}

// CRC32 computes the checksum the builder stores per file and the store
// validates on open.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Align rounds offset up to the next multiple of alignment, which must be
// a power of two. Used so every flat array begins on its element's
// natural alignment inside a single mapped file or a packed blob.
func Align(offset, alignment int) int {
	if alignment <= 1 {
		return offset
	}
	return (offset + alignment - 1) &^ (alignment - 1)
}
