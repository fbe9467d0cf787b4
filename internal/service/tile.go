package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/OvertureMaps/explore-site/internal/tilemeta"
)

// TileFile is a local PMTiles archive and what its metadata declares.
type TileFile struct {
	Name    string   `json:"name" doc:"Archive file name" example:"base.pmtiles"`
	Source  string   `json:"source" doc:"Source name the archive serves" example:"base"`
	Size    string   `json:"size" doc:"Human-readable file size" example:"5.4 MB"`
	MinZoom uint8    `json:"minZoom"`
	MaxZoom uint8    `json:"maxZoom"`
	Layers  []string `json:"layers" doc:"Vector layer ids"`
	Error   string   `json:"error,omitempty" doc:"Why the archive could not be read"`
}

// TileService lists the PMTiles archives the tile schema is refreshed from.
type TileService struct {
	tilesDir string
}

// NewTileService creates a tile service over dir. An empty dir lists nothing.
func NewTileService(dir string) *TileService {
	return &TileService{tilesDir: dir}
}

// List returns all archives in the tiles directory. Unreadable archives
// are listed with Error set.
func (s *TileService) List() ([]TileFile, error) {
	if s.tilesDir == "" {
		return []TileFile{}, nil
	}
	entries, err := os.ReadDir(s.tilesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []TileFile{}, nil
		}
		return nil, err
	}

	files := []TileFile{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".pmtiles" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		tf := TileFile{
			Name:   entry.Name(),
			Source: strings.TrimSuffix(entry.Name(), ".pmtiles"),
			Size:   formatSize(info.Size()),
			Layers: []string{},
		}
		if err := s.describe(&tf); err != nil {
			tf.Error = err.Error()
		}
		files = append(files, tf)
	}
	return files, nil
}

func (s *TileService) describe(tf *TileFile) error {
	h, md, err := tilemeta.ReadFile(filepath.Join(s.tilesDir, tf.Name))
	if err != nil {
		return err
	}
	tf.MinZoom, tf.MaxZoom = h.MinZoom, h.MaxZoom
	for _, vl := range md.VectorLayers {
		tf.Layers = append(tf.Layers, vl.ID)
	}
	return nil
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
