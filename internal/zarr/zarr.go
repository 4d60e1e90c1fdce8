// Package zarr reads the chunked crop stores the mupattern worker writes:
// rank-5 (T,C,Z,H,W) Zarr v3 arrays addressed as root/pos/{pos}/crop/{crop},
// one (H,W) plane per chunk.
package zarr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// arrayRank is the number of dimensions every crop store array carries:
// (T, C, Z, H, W).
const arrayRank = 5

type codecMeta struct {
	Name          string `json:"name"`
	Configuration struct {
		Endian string `json:"endian"`
	} `json:"configuration"`
}

type arrayMeta struct {
	ZarrFormat int      `json:"zarr_format"`
	NodeType   string   `json:"node_type"`
	Shape      []uint64 `json:"shape"`
	DataType   string   `json:"data_type"`
	ChunkGrid  struct {
		Name          string `json:"name"`
		Configuration struct {
			ChunkShape []uint64 `json:"chunk_shape"`
		} `json:"configuration"`
	} `json:"chunk_grid"`
	ChunkKeyEncoding struct {
		Name          string `json:"name"`
		Configuration struct {
			Separator string `json:"separator"`
		} `json:"configuration"`
	} `json:"chunk_key_encoding"`
	Codecs []codecMeta `json:"codecs"`
}

// Array is a read handle onto one on-disk Zarr v3 array.
type Array struct {
	dir        string
	Shape      []uint64
	ChunkShape []uint64
	DataType   string
	separator  string
	byteOrder  binary.ByteOrder
}

// OpenArray opens the array rooted at dir by reading its zarr.json
// metadata. Only Zarr v3 is accepted, matching the worker's output; v2 data
// is rejected.
func OpenArray(dir string) (*Array, error) {
	data, err := os.ReadFile(filepath.Join(dir, "zarr.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read array metadata: %w", err)
	}

	var meta arrayMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse array metadata: %w", err)
	}

	if meta.ZarrFormat != 3 {
		return nil, fmt.Errorf("unsupported zarr format %d, only v3 is supported", meta.ZarrFormat)
	}
	if meta.NodeType != "array" {
		return nil, fmt.Errorf("node at %s is a %q, not an array", dir, meta.NodeType)
	}
	if meta.DataType != "uint16" {
		return nil, fmt.Errorf("unsupported data type %q", meta.DataType)
	}
	if meta.ChunkGrid.Name != "regular" {
		return nil, fmt.Errorf("unsupported chunk grid %q", meta.ChunkGrid.Name)
	}
	if len(meta.Shape) != arrayRank {
		return nil, fmt.Errorf("array has rank %d, expected rank %d (t, c, z, y, x)", len(meta.Shape), arrayRank)
	}
	if len(meta.ChunkGrid.Configuration.ChunkShape) != arrayRank {
		return nil, fmt.Errorf("chunk shape rank %d does not match array rank %d",
			len(meta.ChunkGrid.Configuration.ChunkShape), arrayRank)
	}
	for i := range meta.Shape {
		if meta.Shape[i] == 0 {
			return nil, fmt.Errorf("array dimension %d is zero", i)
		}
		if meta.ChunkGrid.Configuration.ChunkShape[i] == 0 {
			return nil, fmt.Errorf("chunk dimension %d is zero", i)
		}
	}

	byteOrder, err := codecByteOrder(meta.Codecs)
	if err != nil {
		return nil, err
	}

	separator := meta.ChunkKeyEncoding.Configuration.Separator
	if separator == "" {
		separator = "/"
	}

	return &Array{
		dir:        dir,
		Shape:      meta.Shape,
		ChunkShape: meta.ChunkGrid.Configuration.ChunkShape,
		DataType:   meta.DataType,
		separator:  separator,
		byteOrder:  byteOrder,
	}, nil
}

func codecByteOrder(codecs []codecMeta) (binary.ByteOrder, error) {
	for _, c := range codecs {
		if c.Name != "bytes" {
			return nil, fmt.Errorf("unsupported codec %q", c.Name)
		}
		if c.Configuration.Endian == "big" {
			return binary.BigEndian, nil
		}
	}
	return binary.LittleEndian, nil
}

// chunkKey implements the v3 default chunk key encoding: "c" joined with the
// per-dimension indices by the configured separator.
func (a *Array) chunkKey(indices []uint64) string {
	parts := make([]string, 0, len(indices)+1)
	parts = append(parts, "c")
	for _, i := range indices {
		parts = append(parts, strconv.FormatUint(i, 10))
	}
	return strings.Join(parts, a.separator)
}

// ReadChunkUint16 reads one whole chunk at the given per-dimension chunk
// indices and decodes it to uint16 values in row-major order.
func (a *Array) ReadChunkUint16(indices []uint64) ([]uint16, error) {
	if len(indices) != len(a.Shape) {
		return nil, fmt.Errorf("chunk index rank %d does not match array rank %d", len(indices), len(a.Shape))
	}

	// a "/" separator nests chunk files in directories, "." keeps them flat
	path := filepath.Join(a.dir, filepath.FromSlash(a.chunkKey(indices)))
	if a.separator != "/" {
		path = filepath.Join(a.dir, a.chunkKey(indices))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %v: %w", indices, err)
	}

	n := uint64(1)
	for _, c := range a.ChunkShape {
		n *= c
	}
	if uint64(len(data)) != n*2 {
		return nil, fmt.Errorf("chunk %v has %d bytes, expected %d", indices, len(data), n*2)
	}

	out := make([]uint16, n)
	for i := range out {
		out[i] = a.byteOrder.Uint16(data[i*2:])
	}
	return out, nil
}
