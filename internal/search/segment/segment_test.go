package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/search/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSample(t *testing.T, dir string) string {
	t.Helper()
	mi := index.NewMemoryIndex()
	mi.AddChunk("doc-1", 0, 3, "invoice total amount")
	mi.AddChunk("doc-1", 1, 3, "invoice signature")
	mi.AddChunk("doc-2", 0, 1, "delivery note")
	entries, stats := mi.Snapshot()

	name, err := NewWriter(dir).Write(entries, stats)
	require.NoError(t, err)
	assert.Equal(t, Extension, filepath.Ext(name))
	return filepath.Join(dir, name)
}

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	path := writeSample(t, dir)

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, uint32(3), r.ChunkCount())
	postings, err := r.Search("invoic")
	require.NoError(t, err)
	require.Len(t, postings, 2)
	assert.Equal(t, "doc-1#0", postings[0].Key())
	assert.Equal(t, int64(3), postings[1].Gen)

	missing, err := r.Search("zzz")
	require.NoError(t, err)
	assert.Nil(t, missing)

	stats := r.Stats()
	require.Len(t, stats, 3)
	assert.Equal(t, "doc-2#0", stats[2].Key())
	assert.Equal(t, 2, stats[2].Length)

	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	assert.Empty(t, leftovers)
}

func TestWriteRejectsEmpty(t *testing.T) {
	_, err := NewWriter(t.TempDir()).Write(nil, nil)
	assert.Error(t, err)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.seg")
	require.NoError(t, os.WriteFile(path, make([]byte, HeaderSize+FooterSize), 0o644))
	_, err := OpenReader(path)
	assert.ErrorContains(t, err, "bad magic")
}

func TestOpenDetectsCorruptDictionary(t *testing.T) {
	path := writeSample(t, t.TempDir())
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	r, err := OpenReader(path)
	require.NoError(t, err)
	dictOffset := r.header.DictOffset
	r.Close()

	data[dictOffset+2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))
	_, err = OpenReader(path)
	assert.ErrorContains(t, err, "checksum")
}
