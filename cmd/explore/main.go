package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/OvertureMaps/explore-site/internal/api"
	"github.com/OvertureMaps/explore-site/internal/compose"
	"github.com/OvertureMaps/explore-site/internal/server"
	"github.com/OvertureMaps/explore-site/internal/service"
	"github.com/OvertureMaps/explore-site/internal/style/doc"
	"github.com/OvertureMaps/explore-site/internal/style/tokens"
	"github.com/OvertureMaps/explore-site/internal/validate"
)

// Options defines all CLI flags and env vars for the explore server.
// Flags: --host, --port, --style-dir, --tiles-dir, --tiles-url, --release,
// --data-path, --data-dir, --no-db, --watch, --debounce, --log-level
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_STYLE_DIR, ...
type Options struct {
	Host     string        `doc:"Host to bind to" default:"0.0.0.0"`
	Port     int           `doc:"Port to listen on" short:"p" default:"8086"`
	StyleDir string        `doc:"Style directory (tokens, manifests, templates); empty uses the embedded style"`
	TilesDir string        `doc:"Local PMTiles directory, served under /tiles/"`
	TilesURL string        `doc:"PMTiles root URL" default:"https://tiles.overturemaps.org"`
	Release  string        `doc:"Overture release; empty uses the tile schema's"`
	DataPath string        `doc:"GeoParquet release root for exports" default:"s3://overturemaps-us-west-2/release"`
	DataDir  string        `doc:"Directory for the DuckDB file; empty keeps it in memory"`
	NoDB     bool          `doc:"Do not open DuckDB"`
	Watch    bool          `doc:"Reload the style when files in the style directory change"`
	Debounce time.Duration `doc:"Quiet period before a reload" default:"300ms"`
	LogLevel string        `doc:"Log level (debug, info, warn, error)" default:"info"`
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func newServer(opts *Options, log *zap.Logger) (*server.Server, error) {
	return server.New(server.Config{
		Host:     opts.Host,
		Port:     fmt.Sprintf("%d", opts.Port),
		StyleDir: opts.StyleDir,
		TilesDir: opts.TilesDir,
		TilesURL: opts.TilesURL,
		Release:  opts.Release,
		DataPath: opts.DataPath,
		DataDir:  opts.DataDir,
		NoDB:     opts.NoDB,
		Watch:    opts.Watch,
		Debounce: opts.Debounce,
		Log:      log,
	})
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// run loads the style, starts the server and serves until the listener is
// shut down. listening receives the http.Server before it starts accepting.
func run(ctx context.Context, opts *Options, log *zap.Logger, listening func(*http.Server)) error {
	srv, err := newServer(opts, log)
	if err != nil {
		return fmt.Errorf("load style: %w", err)
	}
	defer srv.Close()
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	displayHost := opts.Host
	if displayHost == "0.0.0.0" {
		displayHost = "localhost"
	}
	baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)
	style := opts.StyleDir
	if style == "" {
		style = "(embedded)"
	}

	fmt.Println()
	fmt.Printf("explore-site API server starting...\n")
	fmt.Printf("  Server:  %s\n", baseURL)
	fmt.Printf("  Style:   %s\n", style)
	fmt.Printf("  Tiles:   %s\n", opts.TilesURL)
	fmt.Println()
	fmt.Printf("  Events:  %s/api/v1/surface/events\n", baseURL)
	fmt.Printf("  Docs:    %s/docs\n", baseURL)
	fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
	fmt.Println()

	httpSrv := &http.Server{Addr: addr, Handler: srv}
	if listening != nil {
		listening(httpSrv)
	}
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		log := newLogger(opts.LogLevel)
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		var mu sync.Mutex
		var httpSrv *http.Server

		hooks.OnStart(func() {
			err := run(ctx, opts, log, func(s *http.Server) {
				mu.Lock()
				httpSrv = s
				mu.Unlock()
			})
			cancel()
			_ = log.Sync()
			if err != nil {
				fatal("Error: %v", err)
			}
		})
		hooks.OnStop(func() {
			cancel()
			mu.Lock()
			s := httpSrv
			mu.Unlock()
			if s == nil {
				return
			}
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = s.Shutdown(shutdownCtx)
		})
	})

	cli.Root().Use = "explore"
	cli.Root().Short = "Overture map explorer: style tokens, layer catalogs and live composition"
	cli.Root().Version = api.Version

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			o := *opts
			o.NoDB = true
			srv, err := newServer(&o, zap.NewNop())
			if err != nil {
				fatal("Error loading style: %v", err)
			}
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fatal("Error marshaling spec: %v", err)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// resolve subcommand: print a resolved catalog or token tree
	resolveCmd := &cobra.Command{
		Use:   "resolve [explore|inspect]",
		Short: "Print the resolved layer catalog of a generation, or --tokens for the token tree",
		Args:  cobra.MaximumNArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			b, err := service.LoadBuild(opts.StyleDir, opts.TilesDir, newLogger(opts.LogLevel))
			if err != nil {
				fatal("Error loading style: %v", err)
			}
			theme, _ := cmd.Flags().GetString("theme")
			raw, _ := cmd.Flags().GetBool("raw")
			showTokens, _ := cmd.Flags().GetBool("tokens")

			var out any
			switch {
			case showTokens:
				tree, ok := b.Style.Modes.Tree(theme)
				if !ok {
					fatal("Unknown mode %q", theme)
				}
				out = doc.ToAny(tree)
			case raw:
				gen := "explore"
				if len(args) > 0 {
					gen = args[0]
				}
				var layers []any
				for _, t := range b.Bundle.Templates[gen] {
					layers = append(layers, doc.ToAny(validate.StripTokenRefs(t.Node())))
				}
				out = layers
			default:
				gen := compose.Explore
				if len(args) > 0 {
					gen = compose.Generation(args[0])
				}
				c, ok := b.Style.Catalog(compose.Mode{Generation: gen, Theme: theme})
				if !ok {
					fatal("No catalog for %s/%s", gen, theme)
				}
				var layers []any
				for _, spec := range c.Specs() {
					layers = append(layers, doc.ToAny(spec.Node()))
				}
				out = layers
			}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				fatal("Error marshaling: %v", err)
			}
			fmt.Println(string(data))
		}),
	}
	resolveCmd.Flags().StringP("theme", "t", tokens.DefaultMode, "Token mode")
	resolveCmd.Flags().Bool("raw", false, "Print templates with token references replaced by a placeholder color")
	resolveCmd.Flags().Bool("tokens", false, "Print the resolved token tree of --theme")
	cli.Root().AddCommand(resolveCmd)

	// validate subcommand: report unresolved references and failed checks
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check templates and catalogs against the style rules and tile schema",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			b, err := service.LoadBuild(opts.StyleDir, opts.TilesDir, newLogger(opts.LogLevel))
			if err != nil {
				fatal("Error loading style: %v", err)
			}
			for _, ref := range b.Unresolved {
				fmt.Printf("unresolved: %s\n", ref)
			}
			for _, issue := range b.Report.Issues {
				fmt.Println(issue.String())
			}
			if len(b.Unresolved) > 0 || !b.Report.OK() {
				fatal("%d unresolved, %d issues", len(b.Unresolved), len(b.Report.Issues))
			}
			fmt.Printf("ok: %d modes, %d catalogs\n", len(b.Style.Modes.Names()), len(b.Style.Catalogs))
		}),
	}
	cli.Root().AddCommand(validateCmd)

	cli.Run()
}
