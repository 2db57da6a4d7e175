// Package aescbc layers AES-256-CBC streaming encryption on top of pngenv,
// so that a PNG envelope's payload is ciphertext instead of plaintext.
package aescbc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/TheYoke/pngbin/pngenv"
	"github.com/TheYoke/pngbin/pngerr"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// BlockSize is the AES block size (and the CBC alignment unit).
	BlockSize = aes.BlockSize // 16
)

// Writer wraps a pngenv.Writer, encrypting the payload under AES-256-CBC
// before it reaches the PNG envelope. The first 16 bytes of the PNG's
// payload are the IV in plaintext, so a Reader started at data-offset 16 or
// later reads it from the PNG itself; one started below 16 must be given it.
//
// The PNG's capacity must be a multiple of 16; EncryptWriter never pads
// with PKCS#7, since capacity is already guaranteed divisible by the AES
// block size.
type Writer struct {
	inner *pngenv.Writer
	enc   cipher.BlockMode

	Key []byte
	IV  []byte

	pending  []byte // ciphertext-alignment buffer, <16 bytes
	finished bool
}

// NewWriter constructs an encrypting Writer over a width x height PNG
// written to sink. If key or iv is nil, a random one is generated.
// autoFinish behaves as in pngenv.Writer.
func NewWriter(width, height uint32, sink io.Writer, key, iv []byte, autoFinish bool) (*Writer, error) {
	cap := int64(width) * int64(height) * 4
	if cap%int64(BlockSize) != 0 {
		return nil, pngerr.New("aescbc.NewWriter", pngerr.InvalidArgument)
	}
	if key == nil {
		key = make([]byte, KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, pngerr.Wrap(err, "aescbc.NewWriter", pngerr.InvalidArgument)
		}
	}
	if len(key) != KeySize {
		return nil, pngerr.New("aescbc.NewWriter", pngerr.InvalidArgument)
	}
	if iv == nil {
		iv = make([]byte, BlockSize)
		if _, err := rand.Read(iv); err != nil {
			return nil, pngerr.Wrap(err, "aescbc.NewWriter", pngerr.InvalidArgument)
		}
	}
	if len(iv) != BlockSize {
		return nil, pngerr.New("aescbc.NewWriter", pngerr.InvalidArgument)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, pngerr.Wrap(err, "aescbc.NewWriter", pngerr.InvalidArgument)
	}

	inner, err := pngenv.NewWriter(width, height, sink, autoFinish)
	if err != nil {
		return nil, err
	}
	if _, err := inner.Write(iv); err != nil {
		return nil, err
	}

	w := &Writer{
		inner: inner,
		enc:   cipher.NewCBCEncrypter(block, iv),
		Key:   key,
		IV:    iv,
	}
	return w, nil
}

// Write encrypts and forwards data, buffering up to BlockSize-1 bytes
// internally between calls to stay aligned to the AES block size. It
// returns the number of plaintext bytes accepted.
func (w *Writer) Write(data []byte) (int, error) {
	if w.finished {
		return 0, pngerr.New("aescbc.Writer.Write", pngerr.AlreadyFinished)
	}

	available := w.inner.BytesLeft() - int64(len(w.pending))
	if available < 0 {
		available = 0
	}
	n := len(data)
	if int64(n) > available {
		n = int(available)
	}
	w.pending = append(w.pending, data[:n]...)

	full := len(w.pending) - len(w.pending)%BlockSize
	if full > 0 {
		ct := make([]byte, full)
		w.enc.CryptBlocks(ct, w.pending[:full])
		// ct is a multiple of BlockSize and, by construction, no larger
		// than w.inner.BytesLeft(), so this always accepts all of ct.
		if _, err := w.inner.Write(ct); err != nil {
			return n, err
		}
		w.pending = w.pending[:copy(w.pending, w.pending[full:])]
	}
	return n, nil
}

// Finish pads any buffered sub-block remainder with zero bytes (the PNG's
// capacity is a multiple of 16, so a fully drained Writer never has a
// partial block left pending once all capacity is consumed), encrypts it,
// and finalizes the underlying PNG.
func (w *Writer) Finish() error {
	if w.finished {
		return nil
	}
	if len(w.pending) > 0 {
		block := make([]byte, BlockSize)
		copy(block, w.pending)
		ct := make([]byte, BlockSize)
		w.enc.CryptBlocks(ct, block)
		if _, err := w.inner.Write(ct); err != nil {
			return err
		}
		w.pending = nil
	}
	if err := w.inner.Finish(); err != nil {
		return err
	}
	w.finished = true
	return nil
}

// BytesLeft reports the remaining plaintext capacity this Writer will
// still accept. The leading IV is written by NewWriter, so it is never
// counted here.
func (w *Writer) BytesLeft() int64 {
	left := w.inner.BytesLeft() - int64(len(w.pending))
	if left < 0 {
		return 0
	}
	return left
}

// Capacity returns the total plaintext payload capacity (W*H*4), including
// the leading 16-byte IV.
func (w *Writer) Capacity() int64 { return w.inner.Capacity() }
