// Package ingestapi exposes the two HTTP surfaces the specification names:
// POST /webhook/wechat, which durably (but asynchronously) captures any
// request body, and GET /health, which reports the writer's observed
// health. Persistence is always best-effort from the caller's perspective:
// the handler never surfaces an internal write failure to the webhook
// source, only via the health endpoint.
package ingestapi

import (
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sqrtqiezi/diting/internal/chatlakeerr"
	"github.com/sqrtqiezi/diting/internal/ops"
	"github.com/sqrtqiezi/diting/internal/rawlog"
)

const version = "0.1.0"

// Server bridges inbound webhook requests to the raw log writer via a
// bounded worker pool, so the HTTP response returns well before the
// filesystem write completes.
type Server struct {
	writer *rawlog.Writer
	log    *log.Logger

	work chan rawlog.Delivery

	startedAt    time.Time
	messageCount int64

	probeInterval  time.Duration
	lastProbeOK    atomic.Bool
	lastProbeErr   atomic.Value // string
}

// NewServer starts background workers draining the write queue into writer.
// queueDepth bounds the number of deliveries buffered ahead of the
// filesystem; once full, new requests still return 200 (best-effort ack)
// but the delivery is dropped and logged, matching "webhook response is
// returned before the write completes" without ever blocking the caller.
func NewServer(writer *rawlog.Writer, logger *log.Logger, workers int, queueDepth int, probeInterval time.Duration) *Server {
	var s = &Server{
		writer:        writer,
		log:           logger,
		work:          make(chan rawlog.Delivery, queueDepth),
		startedAt:     time.Now(),
		probeInterval: probeInterval,
	}
	s.lastProbeOK.Store(true)
	s.lastProbeErr.Store("")

	for i := 0; i < workers; i++ {
		go s.drain()
	}
	go s.probeLoop()

	return s
}

func (s *Server) drain() {
	for delivery := range s.work {
		var start = time.Now()
		if _, err := s.writer.Append(delivery, start); err != nil {
			s.log.WithFields(log.Fields{
				"event": "raw_log_append_failed",
				"err":   err.Error(),
			}).Warn("background write failed")
			ops.IngestWriteFailuresTotal.Inc()
			continue
		}
		atomic.AddInt64(&s.messageCount, 1)
	}
}

// probeLoop periodically performs an internal log-writable probe so the
// health surface reflects filesystem quiescence even with no real traffic,
// per the health probe design note.
func (s *Server) probeLoop() {
	var ticker = time.NewTicker(s.probeInterval)
	defer ticker.Stop()
	for range ticker.C {
		var probeDelivery = rawlog.Delivery{
			ReceivedAt:  time.Now().UTC(),
			ClientAddr:  "internal-probe",
			BodyBytes:   []byte(`{"probe":true}`),
			ContentType: "application/json",
		}
		if _, err := s.writer.Append(probeDelivery, time.Now()); err != nil {
			s.lastProbeOK.Store(false)
			s.lastProbeErr.Store(err.Error())
		} else {
			s.lastProbeOK.Store(true)
			s.lastProbeErr.Store("")
		}
	}
}

// ServeWebhook handles POST /webhook/wechat: it assembles a Delivery from
// the request, enqueues it, and acknowledges immediately. A 500 is returned
// only if assembling the request itself fails (e.g. the body cannot be
// read into memory) — never for a downstream write failure.
func (s *Server) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	var requestID = uuid.NewString()
	var start = time.Now()
	ops.IngestRequestsTotal.Inc()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.log.WithFields(log.Fields{
			"event":      "request_assembly_failed",
			"request_id": requestID,
			"err":        err.Error(),
		}).Error("failed to read webhook body")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	var delivery = rawlog.Delivery{
		ReceivedAt:  start.UTC(),
		ClientAddr:  r.RemoteAddr,
		Headers:     headerPairs(r.Header),
		BodyBytes:   body,
		ContentType: r.Header.Get("Content-Type"),
	}

	select {
	case s.work <- delivery:
	default:
		s.log.WithFields(log.Fields{
			"event":      "ingest_queue_full",
			"request_id": requestID,
		}).Warn("dropping delivery, background write queue is full")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":     "ok",
		"request_id": requestID,
	})
}

func headerPairs(h http.Header) []rawlog.Header {
	var pairs []rawlog.Header
	for name, values := range h {
		for _, v := range values {
			pairs = append(pairs, rawlog.Header{Name: name, Value: v})
		}
	}
	return pairs
}

// healthResponse mirrors the literal shape of GET /health in the external
// interfaces section.
type healthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	MessageCount   int64  `json:"message_count"`
	LogWritable    bool   `json:"log_writable"`
	Error          string `json:"error,omitempty"`
}

// ServeHealth handles GET /health.
func (s *Server) ServeHealth(w http.ResponseWriter, r *http.Request) {
	var ok = s.lastProbeOK.Load()
	var resp = healthResponse{
		Version:       version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		MessageCount:  atomic.LoadInt64(&s.messageCount),
		LogWritable:   ok,
	}

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		resp.Status = "unhealthy"
		if errStr, _ := s.lastProbeErr.Load().(string); errStr != "" {
			resp.Error = errStr
		} else {
			resp.Error = chatlakeerr.NewIoError(chatlakeerr.IoOther, "last probe failed", nil).Error()
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		resp.Status = "healthy"
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
