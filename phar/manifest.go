package phar

import (
	"bytes"
	"compress/bzip2"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/Sirherobrine23/subio"
)

const (
	EntryPermissionMask = 0x000001FF
	CompressionMask     = 0x0000F000
	CompressedNone      = 0x00000000
	CompressedGZ        = 0x00001000
	CompressedBZ2       = 0x00002000

	ManifestSigned = 0x00010000

	haltCompiler     = "__HALT_COMPILER(); ?>"
	entryFixedLength = 24
	minEntryLength   = 4 + entryFixedLength
)

type File struct {
	Filename         string
	Timestamp        time.Time
	Size             int64
	Flags            uint32
	SizeUncompressed int64
	SizeCompressed   int64
	CRC              uint32
	MetaSerialized   []byte

	archive             io.ReaderAt
	archiveSize         int64
	dataOffset, dataLen int64
	crcOffset           int64
}

// Mode returns the permission bits stored for the entry.
func (file *File) Mode() fs.FileMode {
	return fs.FileMode(file.Flags & EntryPermissionMask)
}

// OpenRaw returns the entry bytes as stored, without decompression.
//
// Each call gets its own cursor over the archive, so entries can be read
// concurrently.
func (file *File) OpenRaw() (*subio.Reader[*io.SectionReader], error) {
	archive := io.NewSectionReader(file.archive, 0, sizeOrMax(file.archiveSize))
	return subio.NewReaderSeek(archive, file.dataOffset, io.SeekStart, file.dataLen)
}

// Return file reader with decompression if compressed
func (file *File) Open() (io.ReadCloser, error) {
	r, err := file.OpenRaw()
	if err != nil {
		return nil, err
	}
	switch file.Flags & CompressionMask {
	case CompressedNone:
		return io.NopCloser(r), nil
	case CompressedGZ:
		return flate.NewReader(r), nil
	case CompressedBZ2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("%w: %#x", ErrUnknownCompression, file.Flags&CompressionMask)
	}
}

// Parse file entry manifest to struct
//
// PHP Docs: https://www.php.net/manual/en/phar.fileformat.manifestfile.php
func ParseEntryManifest(r io.ReaderAt, offset, size int64) (*File, int64, error) {
	start := offset
	nameLen, err := readField(r, offset, 4, size)
	if err != nil {
		return nil, offset, fmt.Errorf("cannot get filename size: %w", err)
	}
	filenameSize := int64(binary.LittleEndian.Uint32(nameLen))
	offset += 4

	buff, err := readField(r, offset, filenameSize+entryFixedLength, size)
	if err != nil {
		return nil, offset, fmt.Errorf("cannot get entry fields: %w", err)
	}
	offset += int64(len(buff))

	var eb struct {
		SizeUncompressed uint32
		Timestamp        uint32
		SizeCompressed   uint32
		CRC              uint32
		Flags            uint32
		MetaLength       uint32
	}
	if err := binary.Read(bytes.NewReader(buff[filenameSize:]), binary.LittleEndian, &eb); err != nil {
		return nil, offset, err
	}

	var meta []byte
	if eb.MetaLength > 0 {
		if meta, err = readField(r, offset, int64(eb.MetaLength), size); err != nil {
			return nil, offset, fmt.Errorf("cannot get meta: %w", err)
		}
		offset += int64(eb.MetaLength)
	}

	newManifest := &File{
		Filename:         path.Clean(string(buff[:filenameSize])),
		SizeUncompressed: int64(eb.SizeUncompressed),
		Size:             int64(eb.SizeUncompressed),
		Timestamp:        time.Unix(int64(eb.Timestamp), 0),
		SizeCompressed:   int64(eb.SizeCompressed),
		CRC:              eb.CRC,
		Flags:            eb.Flags,
		MetaSerialized:   meta,

		archive:     r,
		archiveSize: size,
		crcOffset:   start + 4 + filenameSize + 12,
	}

	newManifest.dataLen = newManifest.SizeUncompressed
	if newManifest.Flags&CompressionMask > 0 {
		newManifest.dataLen = newManifest.SizeCompressed
	}

	return newManifest, offset, nil
}

type Manifest struct {
	Length        uint32
	EntitiesCount uint32
	Version       string
	Flags         uint32
	Alias         []byte
	AliasLength   uint32
	Metadata      []byte
	IsSigned      bool
}

// Parse phar manifest
//
// PHP Docs: https://www.php.net/manual/en/phar.fileformat.phar.php
func ParseManifest(r io.ReaderAt, size int64) (*Manifest, int64, error) {
	offset, err := getOffset(r, 200, haltCompiler)
	if err != nil {
		return nil, 0, err
	}

	fistParams := make([]byte, 18)
	if n, err := r.ReadAt(fistParams, offset); err != nil {
		return nil, offset + int64(n), fmt.Errorf("cannot get initials params: %w", err)
	}
	offset += 18

	newManifest := &Manifest{
		Length:        binary.LittleEndian.Uint32(fistParams[:4]),
		EntitiesCount: binary.LittleEndian.Uint32(fistParams[4:8]),
		Version:       fmt.Sprintf("%d.%d.%d", fistParams[8]>>4, fistParams[8]&0x0F, fistParams[9]>>4),
		Flags:         binary.LittleEndian.Uint32(fistParams[10:14]),
		AliasLength:   binary.LittleEndian.Uint32(fistParams[14:]),
	}
	newManifest.IsSigned = newManifest.Flags&ManifestSigned > 0

	if newManifest.Alias, err = readField(r, offset, int64(newManifest.AliasLength), size); err != nil {
		return nil, offset, fmt.Errorf("cannot get alias: %w", err)
	}
	offset += int64(newManifest.AliasLength)

	metaLen := make([]byte, 4)
	if n, err := r.ReadAt(metaLen, offset); err != nil {
		return nil, offset + int64(n), err
	}
	offset += 4

	if metaLength := binary.LittleEndian.Uint32(metaLen); metaLength > 0 {
		if newManifest.Metadata, err = readField(r, offset, int64(metaLength), size); err != nil {
			return nil, offset, fmt.Errorf("cannot get metadata: %w", err)
		}
		offset += int64(metaLength)
	}
	return newManifest, offset, nil
}

// readField reads n bytes at offset, refusing lengths that run past size.
func readField(r io.ReaderAt, offset, n, size int64) ([]byte, error) {
	if n < 0 || n > size-offset {
		return nil, io.ErrUnexpectedEOF
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := r.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// getOffset finds the end of the stub, skipping an optional \r\n or \n.
func getOffset(f io.ReaderAt, bufSize int, haltCompiler string) (int64, error) {
	var (
		currentPosition int64
		tail            []byte
		buffer          = make([]byte, bufSize)
		needle          = []byte(haltCompiler)
	)
	for {
		n, err := f.ReadAt(buffer, currentPosition)
		search := append(tail, buffer[:n]...)
		base := currentPosition - int64(len(tail))

		if index := bytes.Index(search, needle); index >= 0 {
			offset := base + int64(index+len(needle))
			next := make([]byte, 2)
			m, _ := f.ReadAt(next, offset)
			switch {
			case m == 2 && next[0] == '\r' && next[1] == '\n':
				offset += 2
			case m >= 1 && next[0] == '\n':
				offset++
			}
			return offset, nil
		}

		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrNoHaltCompiler, err)
		}
		currentPosition += int64(n)
		tail = append([]byte(nil), search[max(0, len(search)-len(needle)+1):]...)
	}
}
