package aescbc

import (
	"crypto/aes"
	"crypto/cipher"
	"io"

	"github.com/TheYoke/pngbin/pngenv"
	"github.com/TheYoke/pngbin/pngerr"
)

// Reader wraps a pngenv.Reader, decrypting the PNG's payload under
// AES-256-CBC. Width*height must be a multiple of 4.
//
// Starting a Reader mid-stream (dOffset >= 16) recovers the CBC IV from
// the 16 ciphertext bytes immediately preceding the aligned block
// containing dOffset, rather than requiring the caller to know it.
type Reader struct {
	inner *pngenv.Reader
	dec   cipher.BlockMode

	bytesLeft int64
	tail      []byte // decrypted bytes already produced by Read, not yet delivered
}

// Source is the union of the two ways a caller may hand the underlying PNG
// bytes to a Reader: a seekable source, or a range-fetching factory.
type Source struct {
	seekable io.ReadSeeker
	factory  pngenv.RangeFunc
}

// FromSeeker builds a Source backed by a seekable byte stream.
func FromSeeker(s io.ReadSeeker) Source { return Source{seekable: s} }

// FromFactory builds a Source backed by a byte-range factory.
func FromFactory(f pngenv.RangeFunc) Source { return Source{factory: f} }

// NewReader constructs a decrypting Reader over a width x height PNG,
// recovering the CBC IV as needed for the requested dOffset. If length < 0
// it defaults to the remaining plaintext capacity after dOffset.
func NewReader(width, height uint32, src Source, key, iv []byte, dOffset, length int64) (*Reader, error) {
	if width*height%4 != 0 {
		return nil, pngerr.New("aescbc.NewReader", pngerr.InvalidArgument)
	}
	if len(key) != KeySize {
		return nil, pngerr.New("aescbc.NewReader", pngerr.InvalidArgument)
	}

	cap := int64(width) * int64(height) * 4
	if dOffset < 0 || dOffset > cap {
		return nil, pngerr.New("aescbc.NewReader", pngerr.InvalidArgument)
	}
	if length < 0 || dOffset+length > cap {
		length = cap - dOffset
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, pngerr.Wrap(err, "aescbc.NewReader", pngerr.InvalidArgument)
	}

	rem := dOffset % BlockSize
	blockOffset := dOffset - rem

	var usedIV []byte
	var inner *pngenv.Reader
	var discard int64

	if blockOffset == 0 {
		if len(iv) != BlockSize {
			return nil, pngerr.New("aescbc.NewReader", pngerr.InvalidArgument)
		}
		usedIV = iv
		discard = rem
		inner, err = openInner(width, height, src, blockOffset, length+rem)
	} else {
		// Recover the IV from the 16 ciphertext bytes immediately
		// preceding the aligned block, plus enough aligned blocks after it
		// to cover rem+length rounded up to a block boundary (rounding rem
		// alone under-provisions whenever length isn't itself a multiple
		// of BlockSize).
		extra := BlockSize + BlockSize*ceilDiv(rem+length, BlockSize)
		usedIV = make([]byte, BlockSize)
		discard = rem
		inner, err = openInner(width, height, src, blockOffset-BlockSize, extra)
		if err == nil {
			if rerr := readFullFrom(inner, usedIV); rerr != nil {
				err = rerr
			}
		}
	}
	if err != nil {
		return nil, err
	}

	r := &Reader{
		inner:     inner,
		dec:       cipher.NewCBCDecrypter(block, usedIV),
		bytesLeft: length + discard,
	}
	if discard > 0 {
		if _, err := r.readPlaintext(int(discard)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func openInner(width, height uint32, src Source, dOffset, length int64) (*pngenv.Reader, error) {
	if src.seekable != nil {
		return pngenv.NewReader(width, height, src.seekable, dOffset, length)
	}
	return pngenv.NewReaderFactory(width, height, src.factory, dOffset, length)
}

func readFullFrom(r *pngenv.Reader, buf []byte) error {
	got, err := r.Read(len(buf))
	if err != nil {
		return err
	}
	copy(buf, got)
	return nil
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a-1)/b + 1
}

// Read decrypts and returns up to size plaintext bytes.
func (r *Reader) Read(size int) ([]byte, error) {
	if size < 0 || int64(size) > r.bytesLeft {
		size = int(r.bytesLeft)
	}
	return r.readPlaintext(size)
}

// readPlaintext is the shared engine behind Read and the IV-recovery
// discard at construction: it reads ciphertext in 16-byte-aligned chunks,
// decrypts, and buffers any decrypted tail beyond what this call needs.
func (r *Reader) readPlaintext(size int) ([]byte, error) {
	out := make([]byte, 0, size)

	if len(r.tail) > 0 {
		n := len(r.tail)
		if n > size {
			n = size
		}
		out = append(out, r.tail[:n]...)
		r.tail = r.tail[n:]
		r.bytesLeft -= int64(n)
	}

	for len(out) < size {
		need := size - len(out)
		alignedNeed := BlockSize * ceilDiv(int64(need), BlockSize)
		ct, err := r.inner.Read(int(alignedNeed))
		if err != nil {
			return out, err
		}
		if len(ct) == 0 {
			break
		}
		// inner.Read may return fewer bytes than requested only when its
		// own bytesLeft is exhausted; CBC still requires whole blocks.
		usable := len(ct) - len(ct)%BlockSize
		if usable == 0 {
			break
		}
		pt := make([]byte, usable)
		r.dec.CryptBlocks(pt, ct[:usable])

		take := len(pt)
		if take > need {
			take = need
		}
		out = append(out, pt[:take]...)
		if take < len(pt) {
			r.tail = append(r.tail, pt[take:]...)
		}
		r.bytesLeft -= int64(take)
		if len(ct) < int(alignedNeed) {
			break
		}
	}
	return out, nil
}

// BytesLeft reports the remaining plaintext bytes not yet delivered.
func (r *Reader) BytesLeft() int64 { return r.bytesLeft }

// Close releases the underlying pngenv.Reader's source.
func (r *Reader) Close() error { return r.inner.Close() }
