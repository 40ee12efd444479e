package phar

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/require"
)

const testStub = "<?php echo 'phar'; __HALT_COMPILER(); ?>\r\n"

type testEntry struct {
	name    string
	content []byte
	flags   uint32
	meta    []byte
}

// buildPhar assembles an archive the way PHP lays it out. sig 0 leaves it
// unsigned.
func buildPhar(t *testing.T, entries []testEntry, sig SignatureFlag, metadata string) []byte {
	t.Helper()
	le := binary.LittleEndian

	flags := uint32(0)
	if sig != 0 {
		flags |= ManifestSigned
	}

	var manifest, data bytes.Buffer
	manifest.Write(le.AppendUint32(nil, uint32(len(entries))))
	manifest.Write([]byte{0x11, 0x10})
	manifest.Write(le.AppendUint32(nil, flags))
	alias := "test.phar"
	manifest.Write(le.AppendUint32(nil, uint32(len(alias))))
	manifest.WriteString(alias)
	manifest.Write(le.AppendUint32(nil, uint32(len(metadata))))
	manifest.WriteString(metadata)

	for _, e := range entries {
		stored := e.content
		if e.flags&CompressionMask == CompressedGZ {
			var buf bytes.Buffer
			fw, err := flate.NewWriter(&buf, flate.BestCompression)
			require.NoError(t, err)
			_, err = fw.Write(e.content)
			require.NoError(t, err)
			require.NoError(t, fw.Close())
			stored = buf.Bytes()
		}

		manifest.Write(le.AppendUint32(nil, uint32(len(e.name))))
		manifest.WriteString(e.name)
		manifest.Write(le.AppendUint32(nil, uint32(len(e.content))))
		manifest.Write(le.AppendUint32(nil, 1700000000))
		manifest.Write(le.AppendUint32(nil, uint32(len(stored))))
		manifest.Write(le.AppendUint32(nil, crc32.ChecksumIEEE(e.content)))
		manifest.Write(le.AppendUint32(nil, 0o644|e.flags))
		manifest.Write(le.AppendUint32(nil, uint32(len(e.meta))))
		manifest.Write(e.meta)
		data.Write(stored)
	}

	var out bytes.Buffer
	out.WriteString(testStub)
	out.Write(le.AppendUint32(nil, uint32(manifest.Len())))
	out.Write(manifest.Bytes())
	out.Write(data.Bytes())

	if sig != 0 {
		h, err := newHash(sig)
		require.NoError(t, err)
		h.Write(out.Bytes())
		out.Write(h.Sum(nil))
		out.Write(le.AppendUint32(nil, uint32(sig)))
		out.WriteString("GBMB")
	}
	return out.Bytes()
}

func simpleEntries() []testEntry {
	return []testEntry{
		{name: "1.txt", content: []byte("ASDF")},
		{name: "index.php", content: []byte("ZXCV"), meta: []byte("s:1:\"x\";")},
	}
}

// writeTemp stores an archive in a temporary file opened read-write.
func writeTemp(t *testing.T, data []byte) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "test.phar"))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	_, err = f.Write(data)
	require.NoError(t, err)
	return f
}
