package tilemeta

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protomaps/go-pmtiles/pmtiles"
)

func archive(t *testing.T, md Metadata, c pmtiles.Compression) []byte {
	t.Helper()
	data, err := json.Marshal(md)
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	raw, err := pmtiles.SerializeMetadata(fields, c)
	require.NoError(t, err)
	h := pmtiles.HeaderV3{
		MetadataOffset:      pmtiles.HeaderV3LenBytes,
		MetadataLength:      uint64(len(raw)),
		InternalCompression: c,
		TileType:            pmtiles.Mvt,
		MinZoom:             0,
		MaxZoom:             14,
		MinLonE7:            -1800000000,
		MinLatE7:            -850000000,
		MaxLonE7:            1800000000,
		MaxLatE7:            850000000,
	}
	return append(pmtiles.SerializeHeader(h), raw...)
}

func read(b []byte) (pmtiles.HeaderV3, Metadata, error) {
	return ReadMetadata(bytes.NewReader(b), int64(len(b)))
}

var placesMeta = Metadata{
	Name: "places",
	VectorLayers: []VectorLayer{{
		ID:      "place",
		Fields:  map[string]string{"@name": "String", "names": "String", "categories": "String"},
		MinZoom: 5,
		MaxZoom: 14,
	}},
}

func TestReadMetadata(t *testing.T) {
	for _, c := range []pmtiles.Compression{pmtiles.NoCompression, pmtiles.Gzip} {
		h, md, err := read(archive(t, placesMeta, c))
		require.NoError(t, err)
		assert.Equal(t, uint8(3), h.SpecVersion)
		assert.Equal(t, pmtiles.TileType(pmtiles.Mvt), h.TileType)
		assert.Equal(t, uint8(14), h.MaxZoom)
		assert.Equal(t, placesMeta.VectorLayers, md.VectorLayers)
	}
}

func TestReadMetadataErrors(t *testing.T) {
	_, _, err := read(make([]byte, pmtiles.HeaderV3LenBytes))
	assert.ErrorIs(t, err, ErrNotPMTiles)

	_, _, err = read([]byte("PMTiles"))
	assert.ErrorIs(t, err, ErrNotPMTiles)

	good := archive(t, placesMeta, pmtiles.Gzip)
	_, _, err = read(good[:len(good)-1])
	assert.ErrorIs(t, err, ErrBadMetadata, "metadata runs past the end")
}

func TestReadMetadataRejectsHugeLength(t *testing.T) {
	for _, h := range []pmtiles.HeaderV3{
		{MetadataOffset: pmtiles.HeaderV3LenBytes, MetadataLength: 1 << 62},
		{MetadataOffset: pmtiles.HeaderV3LenBytes, MetadataLength: MaxMetadataLen + 1},
		{MetadataOffset: 1 << 63, MetadataLength: 1},
	} {
		_, _, err := read(pmtiles.SerializeHeader(h))
		assert.ErrorIs(t, err, ErrBadMetadata)
	}
}

func TestLoadDirReportsCorruptArchive(t *testing.T) {
	dir := t.TempDir()
	corrupt := pmtiles.SerializeHeader(pmtiles.HeaderV3{MetadataOffset: pmtiles.HeaderV3LenBytes, MetadataLength: 1 << 62})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.pmtiles"), corrupt, 0o644))
	err := (&Schema{}).LoadDir(dir)
	assert.ErrorIs(t, err, ErrBadMetadata)
}

func TestSchemaMergesArchivesAndEnums(t *testing.T) {
	s, err := ParseSchema([]byte(`
release: 2025-01-22.0
sources:
  places:
    place:
      values:
        class: [restaurant, cafe]
`))
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "places.pmtiles"), archive(t, placesMeta, pmtiles.Gzip), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))
	require.NoError(t, s.LoadDir(dir))

	l, ok := s.Lookup("places", "place")
	require.True(t, ok)
	assert.Equal(t, 5.0, l.MinZoom)
	assert.Contains(t, l.Fields, "categories")
	assert.Equal(t, []string{"restaurant", "cafe"}, l.Values["class"])
	assert.Equal(t, []string{"places"}, s.SourceNames())

	_, ok = s.Lookup("base", "water")
	assert.False(t, ok)
}
