// Package tilemeta reads the vector layer schema of PMTiles v3 archives:
// which source-layers a tile source carries, their attribute fields and
// zoom ranges.
package tilemeta

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/protomaps/go-pmtiles/pmtiles"
)

// MaxMetadataLen caps the metadata block a header may declare.
const MaxMetadataLen = 64 << 20

var (
	ErrNotPMTiles  = errors.New("tilemeta: not a PMTiles v3 archive")
	ErrBadMetadata = errors.New("tilemeta: metadata out of range")
)

// Metadata is the part of the JSON metadata block the schema needs.
type Metadata struct {
	Name         string        `json:"name,omitempty"`
	Attribution  string        `json:"attribution,omitempty"`
	VectorLayers []VectorLayer `json:"vector_layers"`
}

// VectorLayer describes one source-layer.
type VectorLayer struct {
	ID      string            `json:"id"`
	Fields  map[string]string `json:"fields"`
	MinZoom float64           `json:"minzoom"`
	MaxZoom float64           `json:"maxzoom"`
}

// ReadMetadata reads the header and metadata of an archive of size bytes.
// The metadata block must lie inside the archive and under MaxMetadataLen.
func ReadMetadata(r io.ReaderAt, size int64) (pmtiles.HeaderV3, Metadata, error) {
	var h pmtiles.HeaderV3
	if size < pmtiles.HeaderV3LenBytes {
		return h, Metadata{}, fmt.Errorf("%w: %d bytes", ErrNotPMTiles, size)
	}
	buf := make([]byte, pmtiles.HeaderV3LenBytes)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return h, Metadata{}, fmt.Errorf("read header: %w", err)
	}
	h, err := pmtiles.DeserializeHeader(buf)
	if err != nil {
		return h, Metadata{}, fmt.Errorf("%w: %v", ErrNotPMTiles, err)
	}
	if h.MetadataLength > MaxMetadataLen ||
		h.MetadataOffset > uint64(size) ||
		h.MetadataLength > uint64(size)-h.MetadataOffset {
		return h, Metadata{}, fmt.Errorf("%w: offset %d length %d in %d bytes",
			ErrBadMetadata, h.MetadataOffset, h.MetadataLength, size)
	}

	raw := make([]byte, h.MetadataLength)
	if _, err := r.ReadAt(raw, int64(h.MetadataOffset)); err != nil {
		return h, Metadata{}, fmt.Errorf("read metadata: %w", err)
	}
	compression := h.InternalCompression
	if compression == pmtiles.UnknownCompression {
		compression = pmtiles.NoCompression
	}
	fields, err := pmtiles.DeserializeMetadata(bytes.NewReader(raw), compression)
	if err != nil {
		return h, Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	md, err := decodeMetadata(fields)
	if err != nil {
		return h, Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return h, md, nil
}

// decodeMetadata narrows the generic metadata object to Metadata.
func decodeMetadata(fields map[string]interface{}) (Metadata, error) {
	var md Metadata
	data, err := json.Marshal(fields)
	if err != nil {
		return md, err
	}
	err = json.Unmarshal(data, &md)
	return md, err
}

// ReadFile reads the header and metadata of the archive at path.
func ReadFile(path string) (pmtiles.HeaderV3, Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return pmtiles.HeaderV3{}, Metadata{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return pmtiles.HeaderV3{}, Metadata{}, err
	}
	return ReadMetadata(f, info.Size())
}
