package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stevemurr/objectbox/box"
	"github.com/stevemurr/objectbox/handler"
)

var (
	host string
	port int
)

func (t *T) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP server",
		Long: `
Serve the record trees of the configured backend over HTTP. Cache
metrics are exposed on /metrics.
`,
		Args: cobra.NoArgs,
		RunE: t.runServe,
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	return cmd
}

// newServer assembles the HTTP handler of s: the API, CORS and metrics
// registered on reg.
func (t *T) newServer(s *session, reg *prometheus.Registry) http.Handler {
	h := handler.New(s.db, s.box, handler.Options{
		Logger:  t.log,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	return handler.CORS(h, t.cfg.AllowedOrigins)
}

func (t *T) runServe(cmd *cobra.Command, _ []string) error {
	if cmd.Flags().Changed("host") {
		t.cfg.Host = host
	}
	if cmd.Flags().Changed("port") {
		t.cfg.Port = port
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	reg := prometheus.NewRegistry()
	s, err := t.open(ctx, box.Options{Cache: box.NewCache(reg)})
	if err != nil {
		return err
	}
	defer s.Close()

	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	srv := &http.Server{Addr: addr, Handler: t.newServer(s, reg)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			t.log.WithError(err).Warn("shutdown")
		}
	}()

	t.log.WithFields(logrus.Fields{
		"addr":    addr,
		"backend": t.cfg.Backend,
		"dataDir": t.cfg.DataDir,
		"table":   t.cfg.Table,
	}).Info("objectbox server starting")
	err = srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		return nil
	}
	return errors.Wrapf(err, "serve %s", addr)
}
