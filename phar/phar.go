// Package phar reads PHP archives and patches their entries in place.
//
// Every entry, the signed region and the signature itself are read and
// written through zero-based windows over the archive, see
// [github.com/Sirherobrine23/subio].
//
// PHP Docs: https://www.php.net/manual/en/phar.fileformat.php
package phar

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
)

var (
	ErrNoHaltCompiler     = errors.New("can't find haltCompiler")
	ErrFileNotFound       = errors.New("file not found in archive")
	ErrBadCRC             = errors.New("bad CRC")
	ErrUnknownCompression = errors.New("unknown compression")
	ErrCompressed         = errors.New("compressed entries cannot be overwritten")
	ErrSizeMismatch       = errors.New("content size does not match entry size")
)

// Parsed PHAR-file
type Phar struct {
	Manifest  *Manifest
	Signature *Signature
	Files     []*File
}

// Lookup returns the entry called name, or nil.
func (p *Phar) Lookup(name string) *File {
	for _, file := range p.Files {
		if file.Filename == name {
			return file
		}
	}
	return nil
}

// Parse phar file from [*os.File]
func NewReaderFromFile(file *os.File) (*Phar, error) {
	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("cannot get file stats: %w", err)
	}
	return NewReader(file, stat.Size())
}

// Parse phar file, checking the signature and the CRC of every entry.
func NewReader(r io.ReaderAt, size int64) (*Phar, error) {
	manifest, offset, err := ParseManifest(r, size)
	if err != nil {
		return nil, fmt.Errorf("cannot parse manifest: %w", err)
	}
	if int64(manifest.EntitiesCount)*minEntryLength > size-offset {
		return nil, fmt.Errorf("%d entries: %w", manifest.EntitiesCount, io.ErrUnexpectedEOF)
	}

	filePhar := &Phar{Manifest: manifest, Files: []*File{}}
	if manifest.IsSigned {
		if filePhar.Signature, err = GetSignature(r, size); err != nil {
			return nil, err
		}
	}

	for range manifest.EntitiesCount {
		entry, newOffset, err := ParseEntryManifest(r, offset, size)
		if err != nil {
			return nil, fmt.Errorf("cannot get file entry: %w", err)
		}
		offset = newOffset
		filePhar.Files = append(filePhar.Files, entry)
	}

	for _, file := range filePhar.Files {
		file.dataOffset = offset
		offset += file.dataLen
		if offset > size {
			return nil, fmt.Errorf("%s: %w", file.Filename, io.ErrUnexpectedEOF)
		}

		if err := file.checkCRC(); err != nil {
			return nil, err
		}
	}

	return filePhar, nil
}

// ExtractPath returns where the entry lands under dir. Absolute names and
// names climbing out of dir with ".." are refused.
func (file *File) ExtractPath(dir string) (string, error) {
	name := filepath.FromSlash(file.Filename)
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, file.Filename)
	}
	return filepath.Join(dir, name), nil
}

func (file *File) checkCRC() error {
	f, err := file.Open()
	if err != nil {
		return fmt.Errorf("cannot check CRC of %s: %w", file.Filename, err)
	}
	defer f.Close()

	hash := crc32.NewIEEE()
	if _, err = io.Copy(hash, f); err != nil {
		return fmt.Errorf("fail copy %s content to crc32 hash: %w", file.Filename, err)
	}
	if hash.Sum32() != file.CRC {
		return fmt.Errorf("%w: %s expect %d, received %d", ErrBadCRC, file.Filename, file.CRC, hash.Sum32())
	}
	return nil
}

func sizeOrMax(size int64) int64 {
	if size <= 0 {
		return math.MaxInt64
	}
	return size
}
