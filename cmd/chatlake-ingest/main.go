// Command chatlake-ingest runs the webhook ingestion HTTP server: it
// accepts POST /webhook/wechat deliveries, appends them to the day-log via
// internal/rawlog, and serves GET /health and GET /metrics.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sqrtqiezi/diting/internal/config"
	"github.com/sqrtqiezi/diting/internal/ingestapi"
	"github.com/sqrtqiezi/diting/internal/ops"
	"github.com/sqrtqiezi/diting/internal/rawlog"
	"github.com/sqrtqiezi/diting/internal/taskgroup"
)

func main() {
	var iniPath = flag.String("config", "chatlake.ini", "path to the INI configuration file")
	var addr = flag.String("addr", ":8080", "HTTP listen address")
	var workers = flag.Int("workers", 4, "background raw-log write workers")
	var queueDepth = flag.Int("queue-depth", 1024, "background write queue depth")
	var probeInterval = flag.Duration("probe-interval", 30*time.Second, "health probe write interval")
	flag.Parse()

	var logger = ops.New()

	cfg, err := config.Load(*iniPath)
	if err != nil {
		logger.WithField("event", "config_load_failed").Fatal(err)
	}

	writer, err := rawlog.NewWriter(cfg.RawLogDir, time.Duration(cfg.LockTimeoutIngest)*time.Second)
	if err != nil {
		logger.WithField("event", "raw_log_writer_init_failed").Fatal(err)
	}

	var server = ingestapi.NewServer(writer, logger, *workers, *queueDepth, *probeInterval)

	var mux = http.NewServeMux()
	mux.HandleFunc("/webhook/wechat", server.ServeWebhook)
	mux.HandleFunc("/health", server.ServeHealth)
	mux.Handle("/metrics", ops.MetricsHandler())

	var httpServer = &http.Server{Addr: *addr, Handler: mux}

	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	var group = taskgroup.NewGroup(context.Background())
	group.Queue("http serve", func() error {
		logger.WithField("addr", *addr).Info("chatlake-ingest listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Queue("watch signals", func() error {
		select {
		case sig := <-signalCh:
			logger.WithField("signal", sig.String()).Info("shutting down")
		case <-group.Context().Done():
		}
		var ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	})
	group.GoRun()

	if err := group.Wait(); err != nil {
		logger.WithField("event", "server_exited_with_error").Fatal(err)
	}
}
