package pngenv

import (
	"io"

	"github.com/TheYoke/pngbin/pngerr"
)

// RangeFunc materializes the PNG byte range [first, last] (inclusive) of a
// remote PNG as a readable stream. It is called at most once per Reader,
// letting a caller fetch only the bytes a read actually needs instead of
// downloading the whole file. The returned Reader must yield exactly
// last-first+1 bytes.
type RangeFunc func(first, last int64) (io.Reader, error)

// Reader turns a PngBin PNG envelope, or a byte range of it, back into the
// raw payload byte stream, with data-offset seeking. It accepts either a
// seekable byte source or a RangeFunc factory.
//
// A Reader is not safe for concurrent use, and must be discarded (not
// reused) after any error: neither InvalidPng nor IncompleteRead are
// recoverable mid-stream.
type Reader struct {
	width, height uint32
	src           io.Reader

	bytesLeft int64
	nf, nz    int64
}

// NewReader constructs a Reader over a seekable byte source, positioned at
// data-offset dOffset, reading up to length bytes (or to the end of the
// PNG's capacity if length < 0).
func NewReader(width, height uint32, src io.ReadSeeker, dOffset, length int64) (*Reader, error) {
	r, p, err := newReader(width, height, dOffset, length)
	if err != nil {
		return nil, err
	}
	if _, err := src.Seek(p, io.SeekStart); err != nil {
		return nil, pngerr.Wrap(err, "pngenv.NewReader", pngerr.InvalidArgument)
	}
	r.src = src
	return r, nil
}

// NewReaderFactory constructs a Reader over a RangeFunc, calling it once
// for the byte range [p, lastP] this read will need.
func NewReaderFactory(width, height uint32, factory RangeFunc, dOffset, length int64) (*Reader, error) {
	r, p, err := newReader(width, height, dOffset, length)
	if err != nil {
		return nil, err
	}
	lastP := p
	if r.bytesLeft > 0 {
		lastP = pngOffset(width, dOffset+r.bytesLeft-1)
	}
	src, err := factory(p, lastP)
	if err != nil {
		return nil, pngerr.Wrap(err, "pngenv.NewReaderFactory", pngerr.NetRead)
	}
	r.src = src
	return r, nil
}

func newReader(width, height uint32, dOffset, length int64) (*Reader, int64, error) {
	if err := validateDimensions(width, height); err != nil {
		return nil, 0, pngerr.Wrap(err, "pngenv.NewReader", pngerr.InvalidArgument)
	}
	cap := capacity(width, height)
	if dOffset < 0 || dOffset > cap {
		return nil, 0, pngerr.New("pngenv.NewReader", pngerr.InvalidArgument)
	}
	if length < 0 || dOffset+length > cap {
		length = cap - dOffset
	}

	nf, nz := nextCounters(width, dOffset)
	r := &Reader{
		width:     width,
		height:    height,
		bytesLeft: length,
		nf:        nf,
		nz:        nz,
	}
	return r, pngOffset(width, dOffset), nil
}

// BytesLeft reports the number of payload bytes not yet delivered.
func (r *Reader) BytesLeft() int64 { return r.bytesLeft }

// Read copies up to size raw payload bytes from the PNG into a new slice,
// consuming and validating the stored-block headers and row filter bytes
// that lie between them as it goes. It returns fewer than size bytes only
// when BytesLeft() is exhausted.
func (r *Reader) Read(size int) ([]byte, error) {
	if size < 0 || int64(size) > r.bytesLeft {
		size = int(r.bytesLeft)
	}
	out := make([]byte, 0, size)
	var chunk [blockHeaderSize]byte

	for len(out) < size {
		step := int64(size - len(out))
		if r.nf < step {
			step = r.nf
		}
		if r.nz < step {
			step = r.nz
		}
		if step > 0 {
			buf := make([]byte, step)
			if err := r.readFull(buf); err != nil {
				return out, err
			}
			out = append(out, buf...)
			r.bytesLeft -= step
			r.nf -= step
			r.nz -= step
		}
		if len(out) == size {
			// A header or filter byte that follows the last requested byte
			// is left for the next Read, so a read never runs past its data.
			break
		}

		if r.nz == 0 {
			if err := r.readFull(chunk[:]); err != nil {
				return out, err
			}
			if chunk[0] != 0x00 && chunk[0] != 0x01 {
				return out, pngerr.New("pngenv.Reader.Read", pngerr.InvalidPng)
			}
			length := uint16(chunk[1]) | uint16(chunk[2])<<8
			nlen := uint16(chunk[3]) | uint16(chunk[4])<<8
			if length+nlen != 0xFFFF {
				return out, pngerr.New("pngenv.Reader.Read", pngerr.InvalidPng)
			}
			r.nf -= blockHeaderSize
			r.nz = blockSize
		}

		if r.nf == 0 {
			var filter [1]byte
			if err := r.readFull(filter[:]); err != nil {
				return out, err
			}
			if filter[0] != 0x00 {
				return out, pngerr.New("pngenv.Reader.Read", pngerr.InvalidPng)
			}
			r.nz -= 1
			r.nf = rowStride(r.width)
			if r.nf >= r.nz {
				r.nf += blockHeaderSize * ceilDiv(r.nf, blockSize)
			}
		}
	}
	return out, nil
}

// readFull reads exactly len(buf) bytes from the source, surfacing a
// short read as IncompleteRead.
func (r *Reader) readFull(buf []byte) error {
	n, err := io.ReadFull(r.src, buf)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return pngerr.Newf("pngenv.Reader.readFull", pngerr.IncompleteRead,
				"wanted %d bytes, got %d", len(buf), n)
		}
		return pngerr.Wrap(err, "pngenv.Reader.readFull", pngerr.IncompleteRead)
	}
	return nil
}

// Close releases the underlying source if it implements io.Closer.
func (r *Reader) Close() error {
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
