// Command chatlake-analyze runs the per-chatroom, per-date topic analysis
// orchestrator, either once for an on-demand/backfill invocation or on its
// own daily cron schedule.
package main

import (
	"context"
	"flag"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sqrtqiezi/diting/internal/analysis"
	"github.com/sqrtqiezi/diting/internal/config"
	"github.com/sqrtqiezi/diting/internal/llm"
	"github.com/sqrtqiezi/diting/internal/merge"
	"github.com/sqrtqiezi/diting/internal/metadata"
	"github.com/sqrtqiezi/diting/internal/ops"
	"github.com/sqrtqiezi/diting/internal/query"
)

func main() {
	var iniPath = flag.String("config", "chatlake.ini", "path to the INI configuration file")
	var chatrooms = flag.String("chatrooms", "", "comma-separated chatroom IDs to analyze; required, the command exits with an error when it is empty")
	var dateFlag = flag.String("date", "", "date to analyze, YYYY-MM-DD; defaults to yesterday (UTC)")
	var schedule = flag.String("schedule", "", "cron schedule for recurring daily analysis; empty runs once and exits")
	flag.Parse()

	var logger = ops.New()

	cfg, err := config.Load(*iniPath)
	if err != nil {
		logger.WithField("event", "config_load_failed").Fatal(err)
	}

	store, err := metadata.Open(cfg.MetadataDBPath)
	if err != nil {
		logger.WithField("event", "metadata_store_init_failed").Fatal(err)
	}
	defer store.Close()

	var surface = query.New(cfg.PartitionRoot)
	var completer = llm.NewHTTPCompleter(cfg.LLM.APIBase, cfg.LLM.APIKey, cfg.LLM.Model, time.Duration(cfg.LLM.RequestTimeoutSeconds)*time.Second)
	var client = llm.New(completer)
	client.Retry.MaxAttempts = cfg.LLM.MaxAttempts
	client.Log = logger

	var orchestrator = &analysis.Orchestrator{
		Querier:           surface,
		Analyzer:          client,
		Merger:            merge.NewWithTimeBonus(cfg.Analysis.MergeThreshold, cfg.Analysis.TimeBonus),
		MetadataStore:     store,
		MaxTokensPerBatch: cfg.LLM.MaxTokensPerBatch,
		Log:               logger,
	}

	var rooms []string
	for _, r := range strings.Split(*chatrooms, ",") {
		if trimmed := strings.TrimSpace(r); trimmed != "" {
			rooms = append(rooms, trimmed)
		}
	}
	if len(rooms) == 0 {
		logger.WithField("event", "no_chatrooms_configured").Fatal("pass -chatrooms with at least one chatroom ID")
	}

	var runOnce = func() {
		var date = resolveDate(*dateFlag)
		for _, room := range rooms {
			result, err := orchestrator.Run(context.Background(), room, date)
			ops.AnalysisRunsTotal.WithLabelValues(string(result.Status)).Inc()
			if err != nil {
				logger.WithFields(map[string]interface{}{"event": "analysis_run_failed", "chatroom": room}).Error(err)
				continue
			}
			logger.WithFields(map[string]interface{}{
				"chatroom": room,
				"status":   result.Status,
				"topics":   len(result.Topics),
			}).Info("analysis run finished")
		}
	}

	if *schedule == "" {
		runOnce()
		return
	}

	var c = cron.New()
	if _, err := c.AddFunc(*schedule, runOnce); err != nil {
		logger.WithField("event", "invalid_schedule").Fatal(err)
	}
	logger.WithField("schedule", *schedule).Info("chatlake-analyze running on schedule")
	c.Run()
}

func resolveDate(raw string) time.Time {
	if raw != "" {
		if d, err := time.Parse("2006-01-02", raw); err == nil {
			return d
		}
	}
	return time.Now().UTC().AddDate(0, 0, -1)
}
