package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/toolgate/toolgate/pkg/auth"
	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/kit"
	"github.com/toolgate/toolgate/pkg/logging"
	"github.com/toolgate/toolgate/pkg/mcp"
	"github.com/toolgate/toolgate/pkg/output"
	"github.com/toolgate/toolgate/pkg/pool"
	"github.com/toolgate/toolgate/pkg/registry"
	"github.com/toolgate/toolgate/pkg/reload"
	"github.com/toolgate/toolgate/pkg/store"

	"github.com/spf13/cobra"
)

var (
	serveStore     string
	serveListen    string
	serveLogLevel  string
	serveLogFormat string
	serveLogFile   string
	serveWatch     bool
	serveKits      []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the aggregation gateway",
	Long: `Starts the toolgate gateway: connects to every enabled backend in the
store file, merges their tools into one prefixed catalog, and serves the
result as an MCP endpoint at /mcp.

Authentication is read from the environment:

  TOOLGATE_AUTH_TOKEN       full-access bearer token
  TOOLGATE_READONLY_TOKEN   optional read-only bearer token

When neither is set the gateway runs open (no authentication).

Use --watch to hot-reload the store file when it changes on disk.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveStore, "store", "s", "toolgate.yaml", "Path to the backend store file")
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", ":8180", "Listen address for the MCP endpoint")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&serveLogFormat, "log-format", "text", "Log format (text, json)")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "Write logs to a rotating file instead of stderr")
	serveCmd.Flags().BoolVarP(&serveWatch, "watch", "w", false, "Watch the store file and hot reload on changes")
	serveCmd.Flags().StringArrayVarP(&serveKits, "kit", "k", nil, "Kit file to load at startup (repeatable)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	printer := output.New()
	logger := logging.NewStructuredLogger(logging.Config{
		Level:     logging.ParseLevel(serveLogLevel),
		Format:    logging.ParseFormat(serveLogFormat),
		File:      serveLogFile,
		Component: "toolgate",
	})

	verifier, open, err := buildVerifier()
	if err != nil {
		return err
	}
	if open {
		printer.Warn("no auth token configured, gateway is open", "env", "TOOLGATE_AUTH_TOKEN")
	}

	st := store.NewFileStore(serveStore)
	reg := registry.New(st)
	reg.SetLogger(logger)
	if err := reg.Load(); err != nil {
		return fmt.Errorf("loading store %s: %w", serveStore, err)
	}

	p := pool.New(mcp.NewStandardDialer(logger), pool.Options{Logger: logger})
	kits, err := kit.NewManager(reg, gateVersion())
	if err != nil {
		return err
	}
	kits.SetLogger(logger)

	gw := gateway.New(reg, p, kits, gateway.Options{
		Name:     "toolgate",
		Version:  version,
		Verifier: verifier,
		Logger:   logger,
	})
	defer gw.Close()
	gw.StartCleanup(ctx, 0, 0)

	coord := reload.NewCoordinator(st, reg, gw)
	coord.SetLogger(logger)
	gw.SetReloadCoordinator(coord)

	for _, path := range serveKits {
		active, err := kits.LoadFile(path)
		if err != nil {
			return fmt.Errorf("loading kit %s: %w", path, err)
		}
		printer.Info("kit loaded", "name", active.Name, "version", active.Version, "backends", len(active.Backends))
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if serveWatch {
		watcher := reload.NewWatcher(serveStore, func() error {
			_, err := coord.Reload()
			return err
		})
		watcher.SetLogger(logger)
		go func() {
			if err := watcher.Watch(watchCtx); err != nil {
				logger.Error("store watcher stopped", "error", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", gateway.NewHandler(gw))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:              serveListen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	printer.Info("gateway listening", "addr", serveListen, "store", serveStore, "backends", len(reg.List()))

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("serving on %s: %w", serveListen, err)
	case sig := <-done:
		printer.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildVerifier reads auth configuration from the environment. The second
// return value reports whether the gateway runs without authentication.
func buildVerifier() (auth.Verifier, bool, error) {
	token := os.Getenv("TOOLGATE_AUTH_TOKEN")
	readOnly := os.Getenv("TOOLGATE_READONLY_TOKEN")

	if token == "" && readOnly == "" {
		return auth.Open{}, true, nil
	}
	if token == "" {
		return nil, false, fmt.Errorf("TOOLGATE_READONLY_TOKEN is set but TOOLGATE_AUTH_TOKEN is not")
	}
	v, err := auth.NewStaticToken(token, readOnly)
	if err != nil {
		return nil, false, err
	}
	return v, false, nil
}
