package pngenv

import (
	"hash"
	"hash/adler32"
	"hash/crc32"
	"io"

	"github.com/TheYoke/pngbin/pngerr"
)

// Writer turns a raw byte stream into a conforming PngBin PNG envelope
// written to sink. It is append-only: Write may be called any number of
// times, in any chunk sizes, until the PNG's capacity (width*height*4
// bytes) is exhausted, after which Finish must be called exactly once.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	width, height uint32
	sink          io.Writer
	autoFinish    bool

	bytesLeft int64 // payload bytes not yet accepted
	rowPos    int64 // position within the current row's payload, [0, rowStride)

	buf       []byte // pending inflated bytes, capacity blockSize
	adler     hash.Hash32
	idatCRC   hash.Hash32
	finished  bool
	wroteOpen bool
}

// NewWriter constructs a Writer for a width x height PNG, immediately
// writing the signature, IHDR, and IDAT open (length prefix, "IDAT", and
// the zlib header) to sink. If autoFinish is set, a Write call that
// exhausts the PNG's capacity mid-call finalizes the PNG automatically.
func NewWriter(width, height uint32, sink io.Writer, autoFinish bool) (*Writer, error) {
	if err := validateDimensions(width, height); err != nil {
		return nil, pngerr.Wrap(err, "pngenv.NewWriter", pngerr.InvalidArgument)
	}

	w := &Writer{
		width:      width,
		height:     height,
		sink:       sink,
		autoFinish: autoFinish,
		bytesLeft:  capacity(width, height),
		buf:        make([]byte, 0, blockSize),
		adler:      adler32.New(),
		idatCRC:    crc32.NewIEEE(),
	}

	if _, err := sink.Write([]byte(pngSignature)); err != nil {
		return nil, pngerr.Wrap(err, "pngenv.NewWriter", pngerr.InvalidArgument)
	}
	ihdr := buildIHDR(width, height)
	if _, err := sink.Write(ihdr[:]); err != nil {
		return nil, pngerr.Wrap(err, "pngenv.NewWriter", pngerr.InvalidArgument)
	}
	lenPrefix := idatLenPrefix(width, height)
	if _, err := sink.Write(lenPrefix[:]); err != nil {
		return nil, pngerr.Wrap(err, "pngenv.NewWriter", pngerr.InvalidArgument)
	}
	if _, err := io.WriteString(sink, "IDAT"); err != nil {
		return nil, pngerr.Wrap(err, "pngenv.NewWriter", pngerr.InvalidArgument)
	}
	if _, err := sink.Write(zlibHeader[:]); err != nil {
		return nil, pngerr.Wrap(err, "pngenv.NewWriter", pngerr.InvalidArgument)
	}
	// The IDAT CRC covers "IDAT" + the zlib header, but not the chunk's
	// length prefix or the PNG signature.
	w.idatCRC.Write([]byte("IDAT"))
	w.idatCRC.Write(zlibHeader[:])
	w.wroteOpen = true

	return w, nil
}

// BytesLeft reports the remaining payload capacity.
func (w *Writer) BytesLeft() int64 { return w.bytesLeft }

// Write appends data to the payload, accepting up to BytesLeft() bytes.
// It returns the number of bytes accepted. If the payload is exhausted
// mid-call and autoFinish was set at construction, the PNG is finalized
// before returning.
func (w *Writer) Write(data []byte) (int, error) {
	if w.finished {
		return 0, pngerr.New("pngenv.Writer.Write", pngerr.AlreadyFinished)
	}

	var written int
	rowStrideW := rowStride(w.width)
	for len(data) > 0 && w.bytesLeft > 0 {
		if w.rowPos == 0 {
			if err := w.appendInflated([]byte{0x00}); err != nil {
				return written, err
			}
		}
		n := int64(len(data))
		if room := rowStrideW - w.rowPos; room < n {
			n = room
		}
		if n > w.bytesLeft {
			n = w.bytesLeft
		}
		if bufRoom := int64(blockSize - len(w.buf)); n > bufRoom {
			n = bufRoom
		}
		if err := w.appendInflated(data[:n]); err != nil {
			return written, err
		}
		data = data[n:]
		written += int(n)
		w.bytesLeft -= n
		w.rowPos += n
		if w.rowPos == rowStrideW {
			w.rowPos = 0
		}
	}

	if w.bytesLeft == 0 && w.autoFinish {
		if err := w.Finish(); err != nil {
			return written, err
		}
	}
	return written, nil
}

// appendInflated adds b to the pending block buffer, updating the running
// adler32, flushing a full non-final stored block whenever the buffer
// reaches blockSize.
func (w *Writer) appendInflated(b []byte) error {
	w.adler.Write(b)
	w.buf = append(w.buf, b...)
	if len(w.buf) == blockSize {
		return w.flushBlock(false)
	}
	return nil
}

// flushBlock writes the pending buffer as one stored deflate block, final
// or not, then empties the buffer.
func (w *Writer) flushBlock(final bool) error {
	var header [blockHeaderSize]byte
	if final {
		header[0] = 0x01
	}
	length := uint16(len(w.buf))
	header[1] = byte(length)
	header[2] = byte(length >> 8)
	nlen := 0xFFFF - length
	header[3] = byte(nlen)
	header[4] = byte(nlen >> 8)

	if _, err := w.sink.Write(header[:]); err != nil {
		return pngerr.Wrap(err, "pngenv.Writer.flushBlock", pngerr.InvalidArgument)
	}
	if _, err := w.sink.Write(w.buf); err != nil {
		return pngerr.Wrap(err, "pngenv.Writer.flushBlock", pngerr.InvalidArgument)
	}
	w.idatCRC.Write(header[:])
	w.idatCRC.Write(w.buf)
	w.buf = w.buf[:0]
	return nil
}

// Finish pads any remaining payload capacity with zero bytes (through the
// same row-filter-aware path as Write), flushes the final stored block,
// appends the adler32 trailer and the IDAT crc32, and writes IEND. It is
// idempotent: subsequent calls are no-ops.
func (w *Writer) Finish() error {
	if w.finished {
		return nil
	}

	var zeros [4096]byte
	for w.bytesLeft > 0 {
		n := w.bytesLeft
		if n > int64(len(zeros)) {
			n = int64(len(zeros))
		}
		// autoFinish must not recurse into Finish while we are already
		// padding it closed.
		saved := w.autoFinish
		w.autoFinish = false
		if _, err := w.Write(zeros[:n]); err != nil {
			w.autoFinish = saved
			return err
		}
		w.autoFinish = saved
	}

	if err := w.flushBlock(true); err != nil {
		return err
	}

	var adlerSum [adlerSize]byte
	sum := w.adler.Sum32()
	adlerSum[0] = byte(sum >> 24)
	adlerSum[1] = byte(sum >> 16)
	adlerSum[2] = byte(sum >> 8)
	adlerSum[3] = byte(sum)
	if _, err := w.sink.Write(adlerSum[:]); err != nil {
		return pngerr.Wrap(err, "pngenv.Writer.Finish", pngerr.InvalidArgument)
	}
	w.idatCRC.Write(adlerSum[:])

	var crcSum [idatCRCSize]byte
	csum := w.idatCRC.Sum32()
	crcSum[0] = byte(csum >> 24)
	crcSum[1] = byte(csum >> 16)
	crcSum[2] = byte(csum >> 8)
	crcSum[3] = byte(csum)
	if _, err := w.sink.Write(crcSum[:]); err != nil {
		return pngerr.Wrap(err, "pngenv.Writer.Finish", pngerr.InvalidArgument)
	}

	if _, err := w.sink.Write(iendChunk[:]); err != nil {
		return pngerr.Wrap(err, "pngenv.Writer.Finish", pngerr.InvalidArgument)
	}

	w.finished = true
	return nil
}

// Finished reports whether Finish has already run.
func (w *Writer) Finished() bool { return w.finished }

// TotalSize returns the total byte length this Writer will produce once
// finished, regardless of how much payload has been written so far.
func (w *Writer) TotalSize() int64 { return totalFileSize(w.width, w.height) }

// Capacity returns the payload capacity of this Writer's PNG.
func (w *Writer) Capacity() int64 { return capacity(w.width, w.height) }
