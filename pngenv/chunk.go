// Package pngenv implements the one fixed PNG envelope PngBin uses to
// smuggle arbitrary payload bytes as uncompressed RGBA pixel data: a
// streaming Writer that shapes a byte stream into a byte-exact PNG file,
// and a streaming Reader that recovers the payload from it (or from any
// byte range of it), with data-offset seeking.
//
// Unlike a general-purpose PNG codec, pngenv never filters or compresses a
// row: every row's filter byte is fixed at 0x00 and every deflate block is
// a stored (uncompressed) block. This buys byte-exact, cheaply invertible
// math between "data-offset" (an index into the payload) and "png-offset"
// (an index into the file) at the cost of compression. The output is a
// standard PNG that any decoder can open, but the Reader in this package
// reads only this one layout.
package pngenv

import (
	"encoding/binary"
	"hash/crc32"
)

const (
	pngSignature = "\x89PNG\r\n\x1a\n"

	// ihdrChunkSize is the byte length of the full IHDR chunk: 4 (length)
	// + 4 ("IHDR") + 13 (payload) + 4 (crc).
	ihdrChunkSize = 25

	// idatPrefixSize is the bytes preceding the IDAT data: signature (8)
	// + IHDR (25) + IDAT length+name (8).
	idatPrefixSize = 8 + ihdrChunkSize + 8

	// zlibHeaderSize is the 2-byte zlib header ("78 01": deflate, no
	// preset dictionary, compression level 1 marker).
	zlibHeaderSize = 2

	// adlerSize and idatCRCSize are the trailing 4-byte fields that close
	// out the IDAT chunk's data (adler32) and the chunk itself (crc32).
	adlerSize   = 4
	idatCRCSize = 4

	// blockSize is the maximum number of raw bytes a single stored
	// deflate block can carry (LEN/NLEN are 16-bit).
	blockSize = 0xFFFF

	// blockHeaderSize is BFINAL+pad (1) + LEN (2) + NLEN (2).
	blockHeaderSize = 5

	// iendChunkSize is the fixed trailing IEND chunk: length(4)+name(4)+crc(4).
	iendChunkSize = 12
)

var iendChunk = [iendChunkSize]byte{
	0x00, 0x00, 0x00, 0x00, 'I', 'E', 'N', 'D', 0xAE, 0x42, 0x60, 0x82,
}

var zlibHeader = [zlibHeaderSize]byte{0x78, 0x01}

// ceilDiv computes ceil(a/b) for non-negative a and positive b.
func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a-1)/b + 1
}

// rowStride returns the number of payload bytes per row: W*4.
func rowStride(width uint32) int64 {
	return int64(width) * 4
}

// capacity returns the payload capacity of a W*H PNG: W*H*4.
func capacity(width, height uint32) int64 {
	return rowStride(width) * int64(height)
}

// inflatedLen returns the length of the inflated stream: one filter byte
// per row plus the payload, W*H*4 + H.
func inflatedLen(width, height uint32) int64 {
	return capacity(width, height) + int64(height)
}

// numBlocks returns the number of stored deflate blocks needed to carry n
// inflated bytes.
func numBlocks(inflated int64) int64 {
	return ceilDiv(inflated, blockSize)
}

// idatDataLen returns the length of the IDAT chunk's data: the zlib
// header, one 5-byte header per stored block, the inflated stream, and the
// trailing adler32.
func idatDataLen(width, height uint32) int64 {
	inflated := inflatedLen(width, height)
	return zlibHeaderSize + blockHeaderSize*numBlocks(inflated) + inflated + adlerSize
}

// totalFileSize returns the full byte length of the PNG envelope: the
// fixed prefix, the IDAT data, and the IDAT crc + IEND chunk.
func totalFileSize(width, height uint32) int64 {
	return idatPrefixSize + idatDataLen(width, height) + idatCRCSize + iendChunkSize
}

// pngOffset maps a data-offset d into a png-offset, per spec section 3.
func pngOffset(width uint32, d int64) int64 {
	r := rowStride(width)
	f := d/r + 1
	o := d + f
	c := blockHeaderSize * (o/blockSize + 1)
	return idatPrefixSize + zlibHeaderSize + c + o
}

// nextCounters computes (nf, nz): the number of raw bytes remaining until
// the next row's filter byte and until the next stored-block header,
// respectively, for a reader currently positioned at data-offset d.
func nextCounters(width uint32, d int64) (nf, nz int64) {
	r := rowStride(width)
	f := d/r + 1
	o := d + f
	nf = r - d%r
	nz = blockSize - o%blockSize
	if nf >= nz {
		nf += blockHeaderSize * ceilDiv(nf, blockSize)
	}
	return nf, nz
}

// buildIHDR renders the full 25-byte IHDR chunk (length, name, payload,
// crc) for a width x height, bit depth 8, color type 6 (RGBA) image with
// no compression, filtering, or interlacing.
func buildIHDR(width, height uint32) [ihdrChunkSize]byte {
	var out [ihdrChunkSize]byte
	binary.BigEndian.PutUint32(out[0:4], 13)
	copy(out[4:8], "IHDR")
	binary.BigEndian.PutUint32(out[8:12], width)
	binary.BigEndian.PutUint32(out[12:16], height)
	out[16] = 8 // bit depth
	out[17] = 6 // color type: truecolor with alpha
	out[18] = 0 // compression method
	out[19] = 0 // filter method
	out[20] = 0 // interlace method
	crc := crc32.NewIEEE()
	crc.Write(out[4:21])
	binary.BigEndian.PutUint32(out[21:25], crc.Sum32())
	return out
}

// idatLenPrefix renders the 4-byte big-endian IDAT chunk length field.
func idatLenPrefix(width, height uint32) [4]byte {
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], uint32(idatDataLen(width, height)))
	return out
}

// validateDimensions checks the invariants of spec section 3: both
// dimensions positive and fit in 32 bits (guaranteed by the uint32 type
// itself), and the single IDAT's length fits a 32-bit chunk length field.
func validateDimensions(width, height uint32) error {
	if width == 0 || height == 0 {
		return errInvalidDimensions
	}
	if idatDataLen(width, height) >= 1<<32 {
		return errIDATTooLarge
	}
	return nil
}
