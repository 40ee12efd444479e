package phar

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/Sirherobrine23/subio"
)

const (
	SignatureMD5           = SignatureFlag(0x0001)
	SignatureSHA1          = SignatureFlag(0x0002)
	SignatureSHA256        = SignatureFlag(0x0003)
	SignatureSHA512        = SignatureFlag(0x0004)
	SignatureOpenSSL       = SignatureFlag(0x0010)
	SignatureOpenSSLSha256 = SignatureFlag(0x0011)
	SignatureOpenSSLSha512 = SignatureFlag(0x0012)

	// "GBMB" little endian
	signatureMagic = 0x424D4247

	// flag + magic
	trailerLen       = 8
	keyLenFieldLen   = 4
	maxPublicKeySize = 8 << 10
)

var (
	ErrOpenssl          = errors.New("openssl public key signatures cannot be verified")
	ErrInvalidSignature = errors.New("signature mismatch")
	ErrGBMB             = errors.New("missing GBMB magic")

	sigName = map[SignatureFlag]string{
		SignatureMD5:           "md5",
		SignatureSHA1:          "sha1",
		SignatureSHA256:        "sha256",
		SignatureSHA512:        "sha512",
		SignatureOpenSSL:       "OpenSSL",
		SignatureOpenSSLSha256: "OpenSSL_sha256",
		SignatureOpenSSLSha512: "OpenSSL_sha512",
	}

	hashSize = map[SignatureFlag]int{
		SignatureMD5:    md5.Size,
		SignatureSHA1:   sha1.Size,
		SignatureSHA256: sha256.Size,
		SignatureSHA512: sha512.Size,
	}
)

type SignatureFlag uint32

func (sig SignatureFlag) String() string {
	if str, ok := sigName[sig]; ok {
		return str
	}
	return "unknown"
}

func (sig SignatureFlag) MarshalText() (text []byte, err error) {
	return []byte(sig.String()), nil
}

// IsOpenSSL reports whether the signature is a public key signature rather
// than a plain digest.
func (sig SignatureFlag) IsOpenSSL() bool {
	return sig&SignatureOpenSSL != 0
}

// newHash returns the digest for sig. SHA digests go through libcrypto when
// it can be loaded.
func newHash(sig SignatureFlag) (hash.Hash, error) {
	switch sig {
	case SignatureMD5:
		return md5.New(), nil
	case SignatureSHA1, SignatureSHA256, SignatureSHA512:
		if h, err := opensslHash(sig); err == nil {
			return h, nil
		}
		switch sig {
		case SignatureSHA1:
			return sha1.New(), nil
		case SignatureSHA256:
			return sha256.New(), nil
		default:
			return sha512.New(), nil
		}
	}
	return nil, ErrInvalidSignature
}

type Signature struct {
	Signature SignatureFlag
	Hash      []byte
}

// signedRegion returns a window over the bytes covered by a digest of
// hashLen bytes.
func signedRegion(r io.ReaderAt, size int64, hashLen int) (*subio.Reader[*io.SectionReader], error) {
	length := size - int64(trailerLen+hashLen)
	if length < 0 {
		return nil, fmt.Errorf("%w: archive too small", ErrInvalidSignature)
	}
	return subio.NewReaderAt(io.NewSectionReader(r, 0, size), 0, length), nil
}

// digest hashes the signed region of an archive.
func digest(sig SignatureFlag, region io.Reader, length int64) ([]byte, error) {
	h, err := newHash(sig)
	if err != nil {
		return nil, err
	}
	if _, err := io.CopyN(h, region, length); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// Get phar signature
//
// PHP Docs: https://www.php.net/manual/en/phar.fileformat.signature.php
//
// OpenSSL signatures need the public key, which the archive does not carry.
// They are returned together with [ErrOpenssl].
func GetSignature(r io.ReaderAt, size int64) (*Signature, error) {
	if size < trailerLen {
		return nil, ErrGBMB
	}
	bin := make([]byte, trailerLen)
	if _, err := r.ReadAt(bin, size-trailerLen); err != nil {
		return nil, err
	}

	newSignature := &Signature{Signature: SignatureFlag(binary.LittleEndian.Uint32(bin[0:4]))}
	if binary.LittleEndian.Uint32(bin[4:]) != signatureMagic {
		return nil, ErrGBMB
	}

	if newSignature.Signature.IsOpenSSL() {
		return readOpenSSLSignature(r, size, newSignature)
	}

	n, ok := hashSize[newSignature.Signature]
	if !ok {
		return nil, ErrInvalidSignature
	}
	region, err := signedRegion(r, size, n)
	if err != nil {
		return nil, err
	}
	newSignature.Hash = make([]byte, n)
	if _, err := r.ReadAt(newSignature.Hash, region.Size()); err != nil {
		return nil, fmt.Errorf("cannot get %s hash: %w", newSignature.Signature, err)
	}

	sum, err := digest(newSignature.Signature, region, region.Size())
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(newSignature.Hash, sum) {
		return nil, ErrInvalidSignature
	}
	return newSignature, nil
}

func readOpenSSLSignature(r io.ReaderAt, size int64, newSignature *Signature) (*Signature, error) {
	lenOffset := size - trailerLen - keyLenFieldLen
	if lenOffset < 0 {
		return nil, fmt.Errorf("negative offset")
	}
	lenBuf := make([]byte, keyLenFieldLen)
	n, readErr := r.ReadAt(lenBuf, lenOffset)
	if readErr != nil {
		return nil, fmt.Errorf("reading signature length at offset %d: %w", lenOffset, readErr)
	} else if n != keyLenFieldLen {
		return nil, fmt.Errorf("reading signature length at offset %d: expected %d bytes, got %d", lenOffset, keyLenFieldLen, n)
	}

	sigLen32 := binary.LittleEndian.Uint32(lenBuf)
	if sigLen32 == 0 || sigLen32 > maxPublicKeySize {
		return nil, fmt.Errorf("invalid signature length %d (must be > 0 and <= %d)", sigLen32, maxPublicKeySize)
	}
	sigLen := int64(sigLen32)
	sigOffset := lenOffset - sigLen
	if sigOffset < 0 {
		return nil, fmt.Errorf("calculated negative signature offset %d (size: %d, sigLen: %d)", sigOffset, size, sigLen)
	}

	sig, err := subio.NewReaderSeek(io.NewSectionReader(r, 0, size), sigOffset, io.SeekStart, sigLen)
	if err != nil {
		return nil, err
	}
	if newSignature.Hash, err = io.ReadAll(sig); err != nil {
		return nil, fmt.Errorf("reading signature data at offset %d (length %d): %w", sigOffset, sigLen, err)
	} else if int64(len(newSignature.Hash)) != sigLen {
		return nil, fmt.Errorf("reading signature data at offset %d: expected %d bytes, got %d", sigOffset, sigLen, len(newSignature.Hash))
	}
	return newSignature, ErrOpenssl
}
