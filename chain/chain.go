// Package chain concatenates many PngBin PNG slots into one logical
// append-only write stream or random-access read stream, so a payload
// larger than any one PNG's capacity can be spread across a sequence of
// them and read back as if it were a single source.
package chain

import (
	"io"

	"github.com/TheYoke/pngbin/pngenv"
)

// Source is the union of the two ways a PNG slot's bytes can be handed to a
// Reader: a seekable byte source, or a range-fetching factory. A Seekable
// that also implements io.Closer is closed when the Reader retires it (or
// skips it outright) under auto_close.
type Source struct {
	Seekable io.ReadSeeker
	Factory  pngenv.RangeFunc
}

// FromSeeker builds a Source backed by a seekable byte stream.
func FromSeeker(s io.ReadSeeker) Source { return Source{Seekable: s} }

// FromFactory builds a Source backed by a byte-range factory.
func FromFactory(f pngenv.RangeFunc) Source { return Source{Factory: f} }

// Descriptor describes one PNG slot: its dimensions, the byte sink or
// source backing it, and, for encrypted slots, its key material. A
// Descriptor is consumed exactly once, by either a Writer or a Reader.
type Descriptor struct {
	Width, Height uint32

	// Key and IV are non-nil for an encrypted slot. IV may be nil on the
	// write side (EncryptWriter generates one); on the read side it is
	// required only when the slot is opened at data-offset < 16.
	Key, IV []byte

	// Sink backs a Writer-side Descriptor.
	Sink io.Writer

	// Source backs a Reader-side Descriptor.
	Source Source
}

func (d Descriptor) capacity() int64 {
	return int64(d.Width) * int64(d.Height) * 4
}

// usableCapacity returns the slot's logical byte capacity as seen by a
// chain Reader: the full pixel capacity, minus the leading 16-byte IV for
// an encrypted slot.
func (d Descriptor) usableCapacity(decrypt bool) int64 {
	c := d.capacity()
	if decrypt {
		c -= 16
	}
	return c
}

// Iterator lazily produces the next Descriptor in a chain. It returns
// ok=false once the catalog is exhausted, with err set only on a genuine
// catalog failure (not plain exhaustion).
type Iterator func() (d Descriptor, ok bool, err error)

// closeSeekable closes d's seekable source if it implements io.Closer.
func closeSeekable(d Descriptor) error {
	if c, ok := d.Source.Seekable.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
