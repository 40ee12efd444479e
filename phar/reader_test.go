package phar

import (
	"bytes"
	"encoding/binary"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimple(t *testing.T) {
	osFile := writeTemp(t, buildPhar(t, simpleEntries(), SignatureSHA1, "a:1:{s:1:\"a\";i:123;}"))

	file, err := NewReaderFromFile(osFile)
	require.NoError(t, err)
	require.Len(t, file.Files, 2)

	assert.Equal(t, "1.txt", file.Files[0].Filename)
	f, err := file.Files[0].Open()
	require.NoError(t, err)
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "ASDF", string(content))

	assert.Equal(t, "index.php", file.Files[1].Filename)
	f, err = file.Files[1].Open()
	require.NoError(t, err)
	content, err = io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "ZXCV", string(content))
	assert.Equal(t, "s:1:\"x\";", string(file.Files[1].MetaSerialized))

	assert.Equal(t, "a:1:{s:1:\"a\";i:123;}", string(file.Manifest.Metadata))
	assert.Equal(t, "test.phar", string(file.Manifest.Alias))
	assert.Equal(t, "1.1.1", file.Manifest.Version)
	assert.True(t, file.Manifest.IsSigned)
	assert.Equal(t, SignatureSHA1, file.Signature.Signature)
	assert.EqualValues(t, 0o644, file.Files[0].Mode())
}

func TestBadHash(t *testing.T) {
	data := buildPhar(t, simpleEntries(), SignatureSHA256, "")
	i := bytes.LastIndex(data, []byte("ASDF"))
	require.Positive(t, i)
	data[i] = 'a'

	_, err := NewReader(bytes.NewReader(data), int64(len(data)))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestBadCRC(t *testing.T) {
	data := buildPhar(t, simpleEntries(), 0, "")
	i := bytes.LastIndex(data, []byte("ZXCV"))
	require.Positive(t, i)
	data[i] = 'z'

	_, err := NewReader(bytes.NewReader(data), int64(len(data)))
	assert.ErrorIs(t, err, ErrBadCRC)
}

func TestSignatures(t *testing.T) {
	for _, sig := range []SignatureFlag{SignatureMD5, SignatureSHA1, SignatureSHA256, SignatureSHA512} {
		t.Run(sig.String(), func(t *testing.T) {
			data := buildPhar(t, simpleEntries(), sig, "")
			p, err := NewReader(bytes.NewReader(data), int64(len(data)))
			require.NoError(t, err)
			assert.Equal(t, sig, p.Signature.Signature)
			assert.Len(t, p.Signature.Hash, hashSize[sig])
		})
	}
}

func TestOversizedLengths(t *testing.T) {
	// Offsets past the stub: entry count, alias length, first entry name
	// length and first entry metadata length.
	tests := []struct {
		name    string
		entries []testEntry
		offset  int
	}{
		{name: "entry count", offset: 4},
		{name: "alias length", entries: simpleEntries(), offset: 14},
		{name: "entry name length", entries: simpleEntries(), offset: 31},
		{name: "entry metadata length", entries: simpleEntries(), offset: 31 + 4 + len("1.txt") + 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildPhar(t, tt.entries, 0, "")
			binary.LittleEndian.PutUint32(data[len(testStub)+tt.offset:], 0xFFFFFFFF)

			_, err := NewReader(bytes.NewReader(data), int64(len(data)))
			assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		})
	}
}

func TestOpenSSLSignature(t *testing.T) {
	le := binary.LittleEndian
	key := []byte("sig")
	data := append([]byte("signed body"), key...)
	data = le.AppendUint32(data, uint32(len(key)))
	data = le.AppendUint32(data, uint32(SignatureOpenSSLSha256))
	data = append(data, "GBMB"...)

	sig, err := GetSignature(bytes.NewReader(data), int64(len(data)))
	assert.ErrorIs(t, err, ErrOpenssl)
	assert.EqualError(t, err, "openssl public key signatures cannot be verified")
	require.NotNil(t, sig)
	assert.Equal(t, SignatureOpenSSLSha256, sig.Signature)
	assert.Equal(t, key, sig.Hash)
}

func TestMissingGBMB(t *testing.T) {
	data := buildPhar(t, simpleEntries(), SignatureMD5, "")
	copy(data[len(data)-4:], "XXXX")

	_, err := NewReader(bytes.NewReader(data), int64(len(data)))
	assert.ErrorIs(t, err, ErrGBMB)
}

func TestCompressedEntry(t *testing.T) {
	text := strings.Repeat("compressible ", 64)
	data := buildPhar(t, []testEntry{
		{name: "big.txt", content: []byte(text), flags: CompressedGZ},
		{name: "plain.txt", content: []byte("plain")},
	}, SignatureSHA512, "")

	p, err := NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	big := p.Lookup("big.txt")
	require.NotNil(t, big)
	assert.Less(t, big.SizeCompressed, big.SizeUncompressed)

	f, err := big.Open()
	require.NoError(t, err)
	defer f.Close()
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, text, string(content))

	f, err = p.Lookup("plain.txt").Open()
	require.NoError(t, err)
	content, err = io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "plain", string(content))
}

func TestUnknownCompression(t *testing.T) {
	data := buildPhar(t, simpleEntries(), 0, "")
	p, err := NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	file := p.Files[0]
	file.Flags |= 0x4000
	_, err = file.Open()
	assert.ErrorIs(t, err, ErrUnknownCompression)
}

func TestOpenRaw(t *testing.T) {
	data := buildPhar(t, simpleEntries(), 0, "")
	p, err := NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	raw, err := p.Lookup("index.php").OpenRaw()
	require.NoError(t, err)
	assert.Equal(t, int64(4), raw.Size())

	pos, err := raw.Seek(-2, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos)
	tail, err := io.ReadAll(raw)
	require.NoError(t, err)
	assert.Equal(t, "CV", string(tail))

	// A second cursor is independent of the first.
	other, err := p.Lookup("index.php").OpenRaw()
	require.NoError(t, err)
	head, err := io.ReadAll(other)
	require.NoError(t, err)
	assert.Equal(t, "ZXCV", string(head))
}

func TestExtractPath(t *testing.T) {
	data := buildPhar(t, []testEntry{
		{name: "src/lib.php", content: []byte("<?php")},
		{name: "../../etc/passwd", content: []byte("x")},
		{name: "/abs.txt", content: []byte("y")},
		{name: "a/../../up.txt", content: []byte("z")},
	}, 0, "")
	p, err := NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	dest := filepath.Join("out", "dir")
	got, err := p.Files[0].ExtractPath(dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "src", "lib.php"), got)

	for _, file := range p.Files[1:] {
		_, err := file.ExtractPath(dest)
		assert.ErrorIs(t, err, ErrUnsafePath, file.Filename)
	}
}

func TestGetOffset(t *testing.T) {
	stub := strings.Repeat("#", 37) + haltCompiler + "\nrest"
	for _, size := range []int{4, 7, 16, 200} {
		offset, err := getOffset(strings.NewReader(stub), size, haltCompiler)
		require.NoError(t, err)
		assert.Equal(t, int64(37+len(haltCompiler)+1), offset, "buffer size %d", size)
	}

	offset, err := getOffset(strings.NewReader("x"+haltCompiler), 8, haltCompiler)
	require.NoError(t, err)
	assert.Equal(t, int64(1+len(haltCompiler)), offset)

	_, err = getOffset(strings.NewReader("<?php echo 1;"), 8, haltCompiler)
	assert.ErrorIs(t, err, ErrNoHaltCompiler)
}
