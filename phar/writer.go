package phar

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/Sirherobrine23/subio"
)

// Overwrite replaces the content of an uncompressed entry in place.
//
// rws must hold the same bytes p was parsed from. content must be exactly
// as long as the stored entry. The entry CRC is updated and, for digest
// signed archives, the signature is recomputed.
func (p *Phar) Overwrite(rws io.ReadWriteSeeker, name string, content []byte) error {
	file := p.Lookup(name)
	switch {
	case file == nil:
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	case file.Flags&CompressionMask != CompressedNone:
		return fmt.Errorf("%w: %s", ErrCompressed, name)
	case int64(len(content)) != file.dataLen:
		return fmt.Errorf("%w: %s has %d bytes, got %d", ErrSizeMismatch, name, file.dataLen, len(content))
	case p.Signature != nil && p.Signature.Signature.IsOpenSSL():
		return ErrOpenssl
	}

	data, err := subio.NewWriterSeek(rws, file.dataOffset, io.SeekStart, file.dataLen)
	if err != nil {
		return err
	}
	if _, err := data.Write(content); err != nil {
		return fmt.Errorf("cannot write %s: %w", name, err)
	}

	crc := crc32.ChecksumIEEE(content)
	field, err := subio.NewWriterSeek(data.Release(), file.crcOffset, io.SeekStart, 4)
	if err != nil {
		return err
	}
	if _, err := field.Write(binary.LittleEndian.AppendUint32(nil, crc)); err != nil {
		return fmt.Errorf("cannot write CRC of %s: %w", name, err)
	}
	file.CRC = crc

	if p.Signature == nil {
		return nil
	}
	return p.resign(field.Release())
}

// resign recomputes the digest over everything before it and writes it
// back over the old one.
func (p *Phar) resign(rws io.ReadWriteSeeker) error {
	size, err := rws.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	hashLen := len(p.Signature.Hash)
	length := size - int64(trailerLen+hashLen)
	if length < 0 {
		return fmt.Errorf("%w: archive too small", ErrInvalidSignature)
	}

	region, err := subio.NewReaderSeek(rws, 0, io.SeekStart, length)
	if err != nil {
		return err
	}
	sum, err := digest(p.Signature.Signature, region, length)
	if err != nil {
		return err
	}

	// The digest read left the cursor at the end of the region.
	sig := subio.NewWriterAt(region.Release(), length, int64(hashLen))
	if _, err = sig.Write(sum); err != nil {
		return fmt.Errorf("cannot write signature: %w", err)
	}
	if err = sig.Flush(); err != nil {
		return err
	}
	p.Signature.Hash = sum
	return nil
}
