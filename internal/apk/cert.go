// Package apk extracts signing certificates from APK-style zip archives.
// A v2-signed archive carries a signing block squeezed between the zip
// content and the central directory:
//
//	+---------------+
//	| zip content   |
//	+---------------+
//	| signing block |
//	+---------------+
//	| central dir   |
//	+---------------+
//	| EOCD          |
//	+---------------+
//
// The EOCD is found by scanning backward from the end of the file, its
// central directory offset leads to the signing block, and the
// certificate comes straight out of the v2 signature entry. Signatures
// are not verified here; the certificate only feeds fingerprint pinning.
package apk

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	signingBlockMagic = "APK Sig Block 42"
	schemeV2ID        = 0x7109871a
	eocdMagic         = 0x06054b50

	// EOCD is 22 bytes: magic, 8 bytes of counts, central dir size and
	// offset, comment size.
	eocdSize = 22
)

// ErrNoSignature means the archive has no usable v2 signing block.
var ErrNoSignature = errors.New("apk: no v2 signing block")

// ReadCertificate extracts the first certificate of the first signer from
// the archive's v2 signing block, in DER form.
func ReadCertificate(r io.ReaderAt, size int64) ([]byte, error) {
	c := &cursor{r: r}

	// Find the EOCD: at distance i from the end, a record whose comment
	// size equals i is the real thing once the magic checks out.
	var eocdOff int64 = -1
	for i := int64(0); i <= 0xffff; i++ {
		start := size - eocdSize - i
		if start < 0 {
			break
		}
		c.seek(start + 20)
		if c.u16() != uint16(i) {
			continue
		}
		c.seek(start)
		if c.u32() == eocdMagic {
			eocdOff = start
			break
		}
	}
	if c.err != nil {
		return nil, fmt.Errorf("apk: scan eocd: %w", c.err)
	}
	if eocdOff < 0 {
		return nil, ErrNoSignature
	}

	// Central directory offset sits 16 bytes into the EOCD.
	c.seek(eocdOff + 16)
	centralDirOff := int64(c.u32())

	// The signing block ends right before the central directory with its
	// trailing size copy and magic.
	c.seek(centralDirOff - 24)
	blockSize := int64(c.u64())
	magic := make([]byte, 16)
	c.read(magic)
	if c.err != nil {
		return nil, fmt.Errorf("apk: read signing block: %w", c.err)
	}
	if string(magic) != signingBlockMagic {
		return nil, ErrNoSignature
	}
	c.seek(centralDirOff - blockSize - 8)
	if int64(c.u64()) != blockSize {
		// Leading and trailing sizes disagree; the block is bogus.
		return nil, ErrNoSignature
	}

	// Walk the id-value pairs until the v2 signature entry.
	for {
		pairLen := int64(c.u64())
		if c.err != nil {
			return nil, fmt.Errorf("apk: read signing block: %w", c.err)
		}
		if pairLen == blockSize {
			// Ran into the trailing size copy: no v2 entry.
			return nil, ErrNoSignature
		}
		id := c.u32()
		if id != schemeV2ID {
			c.skip(pairLen - 4)
			continue
		}
		// Signer sequence length, signer length, signed data length.
		c.u32()
		c.u32()
		c.u32()
		// Skip the digest sequence, then the certificate sequence length
		// leads to the first certificate.
		c.skip(int64(c.u32()))
		c.u32()
		certLen := int64(c.u32())
		if c.err != nil {
			return nil, fmt.Errorf("apk: read v2 signature: %w", c.err)
		}
		if certLen <= 0 || certLen > pairLen {
			return nil, ErrNoSignature
		}
		cert := make([]byte, certLen)
		c.read(cert)
		if c.err != nil {
			return nil, fmt.Errorf("apk: read certificate: %w", c.err)
		}
		return cert, nil
	}
}

// Fingerprint returns the hex SHA-256 of a DER certificate.
func Fingerprint(cert []byte) string {
	sum := sha256.Sum256(cert)
	return hex.EncodeToString(sum[:])
}

// FingerprintFile extracts the archive's certificate and fingerprints it.
func FingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return "", err
	}
	cert, err := ReadCertificate(f, fi.Size())
	if err != nil {
		return "", err
	}
	return Fingerprint(cert), nil
}

// cursor reads little-endian values at a moving offset. The first failure
// sticks; callers check err once after a batch of reads.
type cursor struct {
	r   io.ReaderAt
	off int64
	err error
}

func (c *cursor) seek(off int64) {
	c.off = off
	if off < 0 && c.err == nil {
		c.err = fmt.Errorf("offset %d out of range", off)
	}
}

func (c *cursor) skip(n int64) { c.seek(c.off + n) }

func (c *cursor) read(b []byte) {
	if c.err != nil {
		return
	}
	if _, err := c.r.ReadAt(b, c.off); err != nil {
		c.err = err
		return
	}
	c.off += int64(len(b))
}

func (c *cursor) u16() uint16 {
	var b [2]byte
	c.read(b[:])
	return binary.LittleEndian.Uint16(b[:])
}

func (c *cursor) u32() uint32 {
	var b [4]byte
	c.read(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func (c *cursor) u64() uint64 {
	var b [8]byte
	c.read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}
