package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/protoreg/internal/catalog"
	"github.com/zjrosen/protoreg/internal/httpapi"
	"github.com/zjrosen/protoreg/internal/log"
	"github.com/zjrosen/protoreg/internal/pubsub"
	"github.com/zjrosen/protoreg/internal/watcher"
)

func newServeCmd(app *cli) *cobra.Command {
	var (
		addr    string
		noWatch bool
		tailLog bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the resolver over HTTP",
		Long: `Run an HTTP API in front of the resolver.

Routes:
  GET  /health
  GET  /resolve?urn=URN[&skipCache=true][&timeout=2s]
  GET  /resolve/batch?urns=URN,URN
  GET  /validate?urn=URN
  GET  /cache/stats
  POST /cache/clear
  POST /diff                      {"base": {...}, "head": {...}}
  GET  /catalog/report?format=json|markdown

When serving the manifest directory, file changes clear the resolution cache
(disable with --no-watch or server.watch: false).

With --tail-log, lines written to the log file are echoed to stderr as well.

Examples:
  protoreg serve
  protoreg serve --addr :9000 -d ./manifests`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = app.cfg.Server.Addr
			}

			r, err := app.resolver(cmd.Context())
			if err != nil {
				return err
			}

			loadCatalog := func(ctx context.Context) (*catalog.Catalog, error) {
				res, err := app.catalog(ctx, nil)
				if err != nil {
					return nil, err
				}
				return res.Catalog, nil
			}

			server, err := httpapi.NewServer(httpapi.ServerConfig{
				Addr: addr,
				Handler: httpapi.HandlerConfig{
					Resolver:        r,
					Catalog:         loadCatalog,
					ValidateOptions: app.cfg.Catalog.ValidateOptions(),
				},
			})
			if err != nil {
				return fmt.Errorf("creating API server: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if tailLog {
				l := log.NewListener(ctx)
				if l == nil {
					return errors.New("--tail-log needs logging enabled (--log-file or PROTOREG_DEBUG)")
				}
				go streamLog(ctx, l, cmd.ErrOrStderr())
			}

			// Watching only makes sense for the directory source.
			if app.cfg.Server.Watch && !noWatch && len(app.cfg.Etcd.Endpoints) == 0 {
				w, err := watcher.New(watcher.DefaultConfig(app.cfg.ManifestDir))
				if err != nil {
					return fmt.Errorf("creating watcher: %w", err)
				}
				if err := w.Start(); err != nil {
					return fmt.Errorf("starting watcher: %w", err)
				}
				defer func() { _ = w.Stop() }()
				go watcher.InvalidateOnChange(ctx, w, r)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "protoreg serving %s on port %d\n", r.Source().Name(), server.Port())

			select {
			case sig := <-sigCh:
				fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server error: %w", err)
				}
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			if err := server.Stop(shutdownCtx); err != nil {
				log.ErrorErr(log.CatHTTP, "Error stopping API server", err)
			}
			fmt.Fprintln(out, "Server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "address to listen on (overrides server.addr)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not clear the cache on manifest file changes")
	cmd.Flags().BoolVar(&tailLog, "tail-log", false, "echo log lines to stderr while serving")
	return cmd
}

// streamLog copies log lines to w until ctx ends.
func streamLog(ctx context.Context, l *pubsub.Listener[string], w io.Writer) {
	for {
		ev, ok := l.Next(ctx)
		if !ok {
			return
		}
		fmt.Fprintln(w, ev.Payload)
	}
}
