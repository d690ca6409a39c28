// Command chatlake-compact runs the compaction operation against one or
// more raw day-logs, either once (for on-demand/cron-driven invocation) or
// on its own internal daily schedule.
package main

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"github.com/sqrtqiezi/diting/internal/checkpoint"
	"github.com/sqrtqiezi/diting/internal/compaction"
	"github.com/sqrtqiezi/diting/internal/config"
	"github.com/sqrtqiezi/diting/internal/metadata"
	"github.com/sqrtqiezi/diting/internal/ops"
)

func main() {
	var iniPath = flag.String("config", "chatlake.ini", "path to the INI configuration file")
	var schedule = flag.String("schedule", "", "cron schedule for recurring compaction (e.g. \"0 */15 * * * *\"); empty runs once and exits")
	flag.Parse()

	var logger = ops.New()

	cfg, err := config.Load(*iniPath)
	if err != nil {
		logger.WithField("event", "config_load_failed").Fatal(err)
	}

	checkpointStore, err := checkpoint.NewStore(cfg.CheckpointDir)
	if err != nil {
		logger.WithField("event", "checkpoint_store_init_failed").Fatal(err)
	}

	metadataStore, err := metadata.Open(cfg.MetadataDBPath)
	if err != nil {
		logger.WithField("event", "metadata_store_init_failed").Fatal(err)
	}
	defer metadataStore.Close()

	if _, err := compaction.RegisterCanonicalSchemas(metadataStore); err != nil {
		logger.WithField("event", "schema_registration_failed").Fatal(err)
	}

	var engine = &compaction.Engine{
		PartitionRoot:   cfg.PartitionRoot,
		CheckpointStore: checkpointStore,
		BatchSize:       cfg.BatchSize,
		Compression:     cfg.Compression,
		LockTimeout:     time.Duration(cfg.LockTimeoutCompact) * time.Second,
		Log:             logger,
	}

	var runOnce = func() {
		sources, err := pendingSources(cfg.RawLogDir)
		if err != nil {
			logger.WithField("event", "listing_sources_failed").Error(err)
			return
		}
		for _, src := range sources {
			stats, err := engine.Compact(src)
			if err != nil {
				logger.WithFields(map[string]interface{}{"event": "compaction_failed", "source_path": src}).Error(err)
				continue
			}
			ops.CompactionRecordsTotal.Add(float64(stats.NewRecords))
			logger.WithFields(map[string]interface{}{
				"source_path": src,
				"new_records": humanize.Comma(stats.NewRecords),
				"duplicates":  stats.DuplicateCount,
				"malformed":   stats.MalformedCount,
			}).Info("compaction source processed")
		}
		sweepRetention(cfg.RawLogDir, cfg.RetentionDaysRaw, logger)
	}

	if *schedule == "" {
		runOnce()
		return
	}

	var c = cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(*schedule, runOnce); err != nil {
		logger.WithField("event", "invalid_schedule").Fatal(err)
	}
	logger.WithField("schedule", *schedule).Info("chatlake-compact running on schedule")
	c.Run()
}

// pendingSources lists day-log files directly under dir (not the .locks
// subdirectory), oldest first, matching rawlog.Writer's "<date>.jsonl"
// naming.
func pendingSources(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var sources []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		sources = append(sources, filepath.Join(dir, e.Name()))
	}
	return sources, nil
}

// sweepRetention deletes day-logs older than retentionDays, independent of
// compaction status: an age-only sweep, not a compaction-completion gate.
func sweepRetention(dir string, retentionDays int, logger ops.Logger) {
	if retentionDays <= 0 {
		return
	}
	sources, err := pendingSources(dir)
	if err != nil {
		return
	}
	var cutoff = time.Now().AddDate(0, 0, -retentionDays)
	for _, src := range sources {
		var day = filepath.Base(src[:len(src)-len(".jsonl")])
		parsed, err := time.Parse("2006-01-02", day)
		if err != nil || !parsed.Before(cutoff) {
			continue
		}
		if err := os.Remove(src); err != nil {
			logger.WithField("event", "retention_sweep_failed").WithField("source_path", src).Warn(err)
		}
	}
}
