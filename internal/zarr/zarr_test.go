package zarr

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keejkrej/mupattern-engine/internal/logger"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// writeArrayFixture lays down a minimal Zarr v3 array the way the crop
// worker does: one (H,W) plane per chunk.
func writeArrayFixture(t *testing.T, dir string, shape, chunkShape []uint64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))

	meta := map[string]any{
		"zarr_format": 3,
		"node_type":   "array",
		"shape":       shape,
		"data_type":   "uint16",
		"chunk_grid": map[string]any{
			"name":          "regular",
			"configuration": map[string]any{"chunk_shape": chunkShape},
		},
		"chunk_key_encoding": map[string]any{
			"name":          "default",
			"configuration": map[string]any{"separator": "/"},
		},
		"fill_value": 0,
		"codecs": []map[string]any{
			{"name": "bytes", "configuration": map[string]any{"endian": "little"}},
		},
	}
	data, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zarr.json"), data, 0644))
}

func writeChunk(t *testing.T, dir string, indices []uint64, values []uint16) {
	t.Helper()
	parts := []string{dir, "c"}
	for _, i := range indices {
		parts = append(parts, strconv.FormatUint(i, 10))
	}
	path := filepath.Join(parts...)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))

	raw := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(raw[i*2:], v)
	}
	require.NoError(t, os.WriteFile(path, raw, 0644))
}

func TestOpenArrayReadsMetadata(t *testing.T) {
	dir := t.TempDir()
	writeArrayFixture(t, dir, []uint64{30, 2, 1, 64, 64}, []uint64{1, 1, 1, 64, 64})

	arr, err := OpenArray(dir)
	require.NoError(t, err)
	assert.Equal(t, []uint64{30, 2, 1, 64, 64}, arr.Shape)
	assert.Equal(t, []uint64{1, 1, 1, 64, 64}, arr.ChunkShape)
	assert.Equal(t, "uint16", arr.DataType)
}

func TestOpenArrayRejectsZarrV2(t *testing.T) {
	dir := t.TempDir()
	meta := `{"zarr_format":2,"node_type":"array","shape":[1],"data_type":"uint16"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zarr.json"), []byte(meta), 0644))

	_, err := OpenArray(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only v3")
}

func TestOpenArrayRejectsGroupNode(t *testing.T) {
	dir := t.TempDir()
	meta := `{"zarr_format":3,"node_type":"group"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zarr.json"), []byte(meta), 0644))

	_, err := OpenArray(dir)
	assert.Error(t, err)
}

func TestOpenArrayRejectsWrongRank(t *testing.T) {
	dir := t.TempDir()
	writeArrayFixture(t, dir, []uint64{64, 64}, []uint64{64, 64})

	_, err := OpenArray(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rank 5")
}

func TestOpenArrayRejectsZeroDimension(t *testing.T) {
	dir := t.TempDir()
	writeArrayFixture(t, dir, []uint64{2, 1, 1, 0, 64}, []uint64{1, 1, 1, 1, 64})

	_, err := OpenArray(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension 3 is zero")

	dir = t.TempDir()
	writeArrayFixture(t, dir, []uint64{2, 1, 1, 64, 64}, []uint64{1, 1, 1, 0, 64})

	_, err = OpenArray(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk dimension 3 is zero")
}

func TestOpenArrayRejectsUnknownCodec(t *testing.T) {
	dir := t.TempDir()
	meta := `{
		"zarr_format": 3,
		"node_type": "array",
		"shape": [1, 1, 1, 2, 2],
		"data_type": "uint16",
		"chunk_grid": {"name": "regular", "configuration": {"chunk_shape": [1, 1, 1, 2, 2]}},
		"codecs": [{"name": "blosc", "configuration": {}}]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zarr.json"), []byte(meta), 0644))

	_, err := OpenArray(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "codec")
}

func TestOpenArrayMissingMetadata(t *testing.T) {
	_, err := OpenArray(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestReadChunkUint16(t *testing.T) {
	dir := t.TempDir()
	writeArrayFixture(t, dir, []uint64{2, 1, 1, 2, 2}, []uint64{1, 1, 1, 2, 2})
	writeChunk(t, dir, []uint64{1, 0, 0, 0, 0}, []uint16{10, 20, 30, 40000})

	arr, err := OpenArray(dir)
	require.NoError(t, err)

	data, err := arr.ReadChunkUint16([]uint64{1, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, []uint16{10, 20, 30, 40000}, data)
}

func TestReadChunkWrongRank(t *testing.T) {
	dir := t.TempDir()
	writeArrayFixture(t, dir, []uint64{2, 1, 1, 2, 2}, []uint64{1, 1, 1, 2, 2})

	arr, err := OpenArray(dir)
	require.NoError(t, err)

	_, err = arr.ReadChunkUint16([]uint64{0, 0})
	assert.Error(t, err)
}

func TestReadChunkMissingFile(t *testing.T) {
	dir := t.TempDir()
	writeArrayFixture(t, dir, []uint64{2, 1, 1, 2, 2}, []uint64{1, 1, 1, 2, 2})

	arr, err := OpenArray(dir)
	require.NoError(t, err)

	_, err = arr.ReadChunkUint16([]uint64{0, 0, 0, 0, 0})
	assert.Error(t, err)
}

func TestReadChunkSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	writeArrayFixture(t, dir, []uint64{1, 1, 1, 2, 2}, []uint64{1, 1, 1, 2, 2})
	writeChunk(t, dir, []uint64{0, 0, 0, 0, 0}, []uint16{1, 2}) // half a chunk

	arr, err := OpenArray(dir)
	require.NoError(t, err)

	_, err = arr.ReadChunkUint16([]uint64{0, 0, 0, 0, 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected")
}
