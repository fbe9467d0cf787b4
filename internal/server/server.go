package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"go.uber.org/zap"

	"github.com/OvertureMaps/explore-site/internal/api"
	"github.com/OvertureMaps/explore-site/internal/compose"
	"github.com/OvertureMaps/explore-site/internal/db"
	"github.com/OvertureMaps/explore-site/internal/humastar"
	"github.com/OvertureMaps/explore-site/internal/service"
	"github.com/OvertureMaps/explore-site/internal/style/tokens"
	"github.com/OvertureMaps/explore-site/internal/templates"
)

// DefaultTilesURL is the public PMTiles root, one archive per theme per release.
const DefaultTilesURL = "https://tiles.overturemaps.org"

// Config holds the server configuration.
type Config struct {
	Host string
	Port string
	// StyleDir holds tokens, manifests and templates; empty serves the
	// embedded style.
	StyleDir string
	// TilesDir holds local PMTiles archives. They are served under /tiles/
	// and their metadata feeds the validator.
	TilesDir string
	TilesURL string
	Release  string
	// DataPath is the GeoParquet release root exports read.
	DataPath string
	// DataDir holds the DuckDB file; empty uses an in-memory database.
	DataDir  string
	NoDB     bool
	Watch    bool
	Debounce time.Duration
	Log      *zap.Logger
}

// Server is the explore HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	humaAPI  huma.API
	db       *sql.DB
	services *api.Services
	renderer *templates.Renderer
	log      *zap.Logger
}

// New loads the style and builds the API. Nothing is mounted until Start.
func New(cfg Config) (*Server, error) {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TilesURL == "" {
		cfg.TilesURL = DefaultTilesURL
	}
	mux := http.NewServeMux()

	bus := service.NewEventBus()
	styles, err := service.NewStyleService(service.StyleConfig{
		Dir:      cfg.StyleDir,
		TilesDir: cfg.TilesDir,
		Debounce: cfg.Debounce,
	}, bus, log.Named("style"))
	if err != nil {
		return nil, err
	}
	state := service.NewStateService(bus, styles.Current().Bundle.DefaultItems(),
		compose.Mode{Generation: compose.Explore, Theme: tokens.DefaultMode})
	m := service.NewMapService(service.MapConfig{
		TilesURL: cfg.TilesURL,
		Release:  cfg.Release,
	}, styles, state, bus, log.Named("map"))

	s := &Server{
		config: cfg,
		mux:    mux,
		log:    log,
		services: &api.Services{
			Styles:   styles,
			State:    state,
			Map:      m,
			Bus:      bus,
			DataPath: cfg.DataPath,
		},
	}
	if r, err := templates.New(); err == nil {
		s.renderer = r
	} else {
		log.Warn("fragment templates unavailable", zap.Error(err))
	}
	if cfg.TilesDir != "" {
		s.services.Tiles = service.NewTileService(cfg.TilesDir)
	}

	if !cfg.NoDB {
		conn, err := db.Open(db.Config{DataDir: cfg.DataDir, Log: log.Named("duckdb")})
		if err != nil {
			log.Warn("duckdb unavailable, export counts disabled", zap.Error(err))
		} else {
			s.db = conn
			s.services.DB = conn
		}
	}

	links := humastar.NewLinks("/health")
	humaConfig := huma.DefaultConfig("explore-site API", api.Version)
	humaConfig.Info.Description = "Style tokens, layer catalogs and live map composition for the Overture explorer."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, links.Transformer())
	s.humaAPI = humago.New(mux, humaConfig)

	s.routes()
	links.Build(s.humaAPI)
	return s, nil
}

// Start mounts the map and, when configured, watches the style directory.
func (s *Server) Start(ctx context.Context) error {
	if err := s.services.Map.Start(ctx); err != nil {
		return fmt.Errorf("start map: %w", err)
	}
	if s.config.Watch {
		if err := s.services.Styles.Watch(ctx); err != nil {
			return fmt.Errorf("watch styles: %w", err)
		}
	}
	return nil
}

// OpenAPI returns the API description.
func (s *Server) OpenAPI() *huma.OpenAPI { return s.humaAPI.OpenAPI() }

// Services exposes the services, for subcommands that work without HTTP.
func (s *Server) Services() *api.Services { return s.services }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close stops the style watcher and closes the database.
func (s *Server) Close() error {
	err := s.services.Styles.Close()
	if s.db != nil {
		if dbErr := s.db.Close(); err == nil {
			err = dbErr
		}
	}
	return err
}

func (s *Server) routes() {
	huma.AutoRegister(s.humaAPI, api.NewAPIHandler(s.services))
	huma.AutoRegister(s.humaAPI, api.NewInfoHandler(s.services.Styles, s.config.StyleDir, s.services.Map.Release(), s.db != nil))
	huma.AutoRegister(s.humaAPI, api.NewExportHandler(s.services))
	huma.AutoRegister(s.humaAPI, api.NewEventHandler(s.services, s.renderer))

	if s.config.TilesDir != "" {
		s.mux.Handle("/tiles/", http.StripPrefix("/tiles/", handleTiles(s.config.TilesDir)))
	}
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "explore-site",
		"status":  "running",
	})
}

// handleTiles serves local archives with the CORS and range headers the
// PMTiles protocol needs.
func handleTiles(tilesDir string) http.Handler {
	files := http.FileServer(http.Dir(tilesDir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		files.ServeHTTP(w, r)
	})
}
