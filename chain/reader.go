package chain

import (
	"github.com/TheYoke/pngbin/aescbc"
	"github.com/TheYoke/pngbin/pngenv"
	"github.com/TheYoke/pngbin/pngerr"
	"github.com/sirupsen/logrus"
)

// slotReader is the shared surface of pngenv.Reader and aescbc.Reader that
// Reader drives.
type slotReader interface {
	Read(int) ([]byte, error)
	BytesLeft() int64
	Close() error
}

// Reader concatenates a sequence of PNG slots, pulled lazily from an
// Iterator, into one logical random-access read stream.
type Reader struct {
	next      Iterator
	decrypt   bool
	autoClose bool
	log       *logrus.Entry

	cur       slotReader
	slot      int
	bytesLeft int64 // -1 means unbounded: read until the chain is exhausted
}

// NewReader walks next, skipping whole slots whose capacity does not
// exceed offset (closing their sources if autoClose), then opens the first
// inner reader at the adjusted offset. length < 0 means "read until the
// chain is exhausted" rather than a fixed logical length.
func NewReader(next Iterator, offset, length int64, decrypt, autoClose bool) (*Reader, error) {
	if offset < 0 {
		return nil, pngerr.New("chain.NewReader", pngerr.InvalidArgument)
	}

	r := &Reader{
		next:      next,
		decrypt:   decrypt,
		autoClose: autoClose,
		log:       logrus.WithField("component", "chain.Reader"),
		slot:      -1,
	}
	if length < 0 {
		r.bytesLeft = -1
	} else {
		r.bytesLeft = length
	}

	for {
		d, ok, err := next()
		if err != nil {
			return nil, pngerr.Wrap(err, "chain.NewReader", pngerr.EndOfStream)
		}
		if !ok {
			return nil, pngerr.New("chain.NewReader", pngerr.EndOfStream)
		}
		r.slot++
		capN := d.usableCapacity(decrypt)
		if offset >= capN {
			offset -= capN
			r.log.WithField("slot", r.slot).Debug("skipping slot")
			if r.autoClose {
				if err := closeSeekable(d); err != nil {
					return nil, pngerr.Wrap(err, "chain.NewReader", pngerr.InvalidArgument)
				}
			}
			continue
		}

		slotLength := capN - offset
		if r.bytesLeft >= 0 && slotLength > r.bytesLeft {
			slotLength = r.bytesLeft
		}
		inner, err := r.openSlot(d, offset, slotLength)
		if err != nil {
			return nil, err
		}
		r.cur = inner
		break
	}
	return r, nil
}

// openSlot opens d at logical offset dOffset (0-based, excluding an
// encrypted slot's leading IV) for length bytes.
func (r *Reader) openSlot(d Descriptor, dOffset, length int64) (slotReader, error) {
	if r.decrypt {
		return aescbc.NewReader(d.Width, d.Height, aescbcSource(d.Source), d.Key, d.IV, dOffset+16, length)
	}
	if d.Source.Seekable != nil {
		return pngenv.NewReader(d.Width, d.Height, d.Source.Seekable, dOffset, length)
	}
	return pngenv.NewReaderFactory(d.Width, d.Height, d.Source.Factory, dOffset, length)
}

// Read fills a buffer of up to size bytes, advancing to the next slot
// transparently when the current one is exhausted. size < 0 or size >
// BytesLeft() is clamped to BytesLeft() when a logical length was given;
// with no logical length it reads exactly size bytes, or fewer only once
// the chain itself runs out.
func (r *Reader) Read(size int) ([]byte, error) {
	if r.bytesLeft >= 0 && (size < 0 || int64(size) > r.bytesLeft) {
		size = int(r.bytesLeft)
	}
	if size < 0 {
		size = 0
	}

	out := make([]byte, 0, size)
	for len(out) < size {
		if r.cur == nil {
			if err := r.advance(); err != nil {
				if err == errChainExhausted {
					break
				}
				return out, err
			}
		}
		need := size - len(out)
		got, err := r.cur.Read(need)
		out = append(out, got...)
		if err != nil {
			return out, err
		}
		if len(got) < need {
			if r.autoClose {
				_ = r.cur.Close()
			}
			r.cur = nil
		}
	}
	if r.bytesLeft >= 0 {
		r.bytesLeft -= int64(len(out))
	}
	return out, nil
}

func (r *Reader) advance() error {
	d, ok, err := r.next()
	if err != nil {
		return pngerr.Wrap(err, "chain.Reader.advance", pngerr.EndOfStream)
	}
	if !ok {
		if r.bytesLeft > 0 {
			return pngerr.New("chain.Reader.advance", pngerr.EndOfStream)
		}
		return errChainExhausted
	}
	r.slot++
	length := d.usableCapacity(r.decrypt)
	if r.bytesLeft >= 0 && length > r.bytesLeft {
		length = r.bytesLeft
	}
	inner, err := r.openSlot(d, 0, length)
	if err != nil {
		return err
	}
	r.cur = inner
	r.log.WithField("slot", r.slot).Debug("advanced to slot")
	return nil
}

// BytesLeft reports the remaining logical length, or -1 if the Reader was
// constructed with an unbounded length.
func (r *Reader) BytesLeft() int64 { return r.bytesLeft }

// Close releases the current inner reader, if any. ChainReader with
// auto_close already closes each inner reader as it retires one; Close
// covers the one still open on early exit.
func (r *Reader) Close() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	return err
}

func aescbcSource(s Source) aescbc.Source {
	if s.Seekable != nil {
		return aescbc.FromSeeker(s.Seekable)
	}
	return aescbc.FromFactory(s.Factory)
}
