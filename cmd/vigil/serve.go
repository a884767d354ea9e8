package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chris-regnier/vigil/internal/audit"
	"github.com/chris-regnier/vigil/internal/cache"
	"github.com/chris-regnier/vigil/internal/server"
	"github.com/chris-regnier/vigil/internal/store"
)

var (
	flagServeAddr     string
	flagServeToken    string
	flagServeCacheDir string
	flagServeNoStore  bool
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the audit API and a shared result cache over HTTP",
		Long: `Serve POST /v1/audit, rule metadata, stored runs and the /v1/cache
endpoints used by clients configured with cache.remote.

The bearer token defaults to $VIGIL_TOKEN.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	f := serveCmd.Flags()
	f.StringVar(&flagServeAddr, "addr", ":8080", "Listen address")
	f.StringVar(&flagServeToken, "token", "", "Bearer token required on /v1 routes")
	f.StringVar(&flagServeCacheDir, "cache-dir", "", "Directory backing the shared cache (default from config)")
	f.BoolVar(&flagServeNoStore, "no-store", false, "Do not persist audit runs")
	f.StringVar(&flagRegoDir, "rego", projectRegoDir, "Directory containing Rego gate policies")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// The server is the cache; it never reads through another one.
	cfg.Cache.Remote = ""

	flush, err := startTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer flush()

	opts := []audit.Option{audit.WithPolicyDir(flagRegoDir)}
	if !flagServeNoStore {
		st, err := store.Open(cfg.Store.Backend, cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()
		opts = append(opts, audit.WithStore(st))
	}
	a, err := newAuditor(ctx, cfg, opts...)
	if err != nil {
		return err
	}

	cacheDir := flagServeCacheDir
	if cacheDir == "" {
		cacheDir = cfg.Cache.Dir
	}
	token := flagServeToken
	if token == "" {
		token = os.Getenv("VIGIL_TOKEN")
	}

	srv := server.New(a,
		server.WithLogger(logger),
		server.WithToken(token),
		server.WithCacheStorage(cache.NewLocalStorage(cacheDir)),
	)
	fmt.Fprintf(cmd.ErrOrStderr(), "vigil %s listening on %s (%d rules)\n", version, flagServeAddr, a.Registry().Len())
	if err := srv.ListenAndServe(ctx, flagServeAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
