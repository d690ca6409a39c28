// Package compaction implements the data-lake compaction engine: it
// converts a day's raw log into canonical partitions with exactly-once
// semantics, via checkpointed incremental reads, per-partition batch
// accumulation, and atomic publish.
package compaction

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sqrtqiezi/diting/internal/atomicfile"
	"github.com/sqrtqiezi/diting/internal/canonical"
	"github.com/sqrtqiezi/diting/internal/chatlakeerr"
	"github.com/sqrtqiezi/diting/internal/checkpoint"
	"github.com/sqrtqiezi/diting/internal/columnar"
)

// Stats summarizes one compaction run's outcome.
type Stats struct {
	NewRecords      int64
	DuplicateCount  int64
	MalformedCount  int64
	SchemaMismatchKinds []string
	PartitionsWritten []string
}

// Engine runs the compaction operation against one partition root.
type Engine struct {
	PartitionRoot   string
	CheckpointStore *checkpoint.Store
	BatchSize       int
	Compression     string
	LockTimeout     time.Duration
	Log             *log.Logger
}

const maxSchemaMismatchKinds = 3

// Compact runs the compact(source_path, partition_root, checkpoint_store)
// operation of spec.md §4.4 against sourcePath.
func (e *Engine) Compact(sourcePath string) (Stats, error) {
	var stats Stats
	var lockPath = filepath.Join(e.PartitionRoot, ".locks", "compactor.lock")

	err := atomicfile.WithLock(lockPath, e.LockTimeout, func() error {
		var runErr error
		stats, runErr = e.compactLocked(sourcePath)
		return runErr
	})
	if err != nil {
		if chatlakeerr.IsTimeout(err) {
			return stats, &chatlakeerr.CheckpointConflict{PartitionRoot: e.PartitionRoot}
		}
		return stats, err
	}
	return stats, nil
}

func (e *Engine) compactLocked(sourcePath string) (Stats, error) {
	var stats Stats
	var logger = e.logger().WithField("source_path", sourcePath)

	cp, err := e.CheckpointStore.Load(sourcePath)
	if err != nil {
		return stats, err
	}

	contentHash, err := checkpoint.HashFile(sourcePath)
	if err != nil {
		return stats, err
	}

	if cp.Status == checkpoint.StatusCompleted && cp.SourceContentHash == contentHash {
		logger.Info("compaction no-op: checkpoint already completed for this content")
		return stats, nil
	}

	// Resuming from last_processed_offset covers both the documented
	// failed-checkpoint path (§4.4 step 2) and a processing checkpoint left
	// behind by a run that crashed before reaching either terminal state:
	// neither case advanced the offset past what was durably flushed.
	var startOffset = cp.LastProcessedOffset

	var markFailed = func(cause error) error {
		var failed = checkpoint.Checkpoint{
			SourcePath:          sourcePath,
			LastProcessedOffset: startOffset,
			LastProcessedKey:    cp.LastProcessedKey,
			RecordCount:         cp.RecordCount,
			Status:              checkpoint.StatusFailed,
			Error:               cause.Error(),
			SourceContentHash:   contentHash,
		}
		if saveErr := e.CheckpointStore.Save(failed); saveErr != nil {
			logger.WithField("event", "failed_checkpoint_save_error").Warn(saveErr)
		}
		return cause
	}

	var processing = checkpoint.Checkpoint{
		SourcePath:          sourcePath,
		LastProcessedOffset: startOffset,
		LastProcessedKey:    cp.LastProcessedKey,
		RecordCount:         cp.RecordCount,
		Status:              checkpoint.StatusProcessing,
		SourceContentHash:   contentHash,
	}
	if err := e.CheckpointStore.Save(processing); err != nil {
		return stats, err
	}

	f, err := os.Open(sourcePath)
	if err != nil {
		return stats, markFailed(chatlakeerr.NewIoError(chatlakeerr.IoOther, "opening source raw log", err))
	}
	defer f.Close()

	if _, err := f.Seek(startOffset, io.SeekStart); err != nil {
		return stats, markFailed(chatlakeerr.NewIoError(chatlakeerr.IoOther, "seeking to checkpoint offset", err))
	}

	var batches = newBatchAccumulator(e.PartitionRoot, e.BatchSize, e.Compression)
	var dedup = newDedupIndex(e.estimatedRowCount())
	e.seedDedupFromExistingPartitions(dedup, sourcePath)

	var reader = bufio.NewReaderSize(f, 64*1024)
	var offset = startOffset
	var lastKey string
	var schemaMismatchSeen = make(map[string]bool)

	for {
		line, readErr := reader.ReadBytes('\n')
		var consumed = int64(len(line))
		if len(line) > 0 && line[len(line)-1] == '\n' {
			line = line[:len(line)-1]
		} else if readErr == io.EOF && len(line) > 0 {
			// Torn final line at crash time: tolerate it by stopping before
			// consuming it, so the next run re-reads it whole.
			break
		}

		if len(line) == 0 {
			offset += consumed
			if readErr == io.EOF {
				break
			}
			continue
		}

		var rec struct {
			ParsedObject json.RawMessage `json:"parsed_object"`
			ParseError   string          `json:"parse_error"`
		}
		if err := json.Unmarshal(line, &rec); err != nil {
			stats.MalformedCount++
			logger.WithFields(log.Fields{"event": "malformed_line"}).Warn("skipping malformed raw-log line")
			offset += consumed
			if readErr == io.EOF {
				break
			}
			continue
		}

		if rec.ParseError != "" || len(rec.ParsedObject) == 0 {
			stats.MalformedCount++
			offset += consumed
			if readErr == io.EOF {
				break
			}
			continue
		}

		var kind = classify(rec.ParsedObject)
		var now = time.Now().UTC()

		switch kind {
		case kindMessage:
			msg, perr := parseMessage(rec.ParsedObject, now)
			if perr != nil {
				stats.MalformedCount++
				offset += consumed
				if readErr == io.EOF {
					break
				}
				continue
			}
			if dedup.Contains(msg.MsgID) {
				stats.DuplicateCount++
			} else {
				dedup.Add(msg.MsgID)
				batches.AddMessage(msg)
				stats.NewRecords++
				lastKey = msg.MsgID
			}
		case kindContact:
			contact, perr := parseContact(rec.ParsedObject, now)
			if perr != nil {
				stats.MalformedCount++
			} else {
				batches.AddContact(contact)
				stats.NewRecords++
				lastKey = contact.Username
			}
		default:
			var kindLabel = firstFieldKind(rec.ParsedObject)
			if !schemaMismatchSeen[kindLabel] && len(stats.SchemaMismatchKinds) < maxSchemaMismatchKinds {
				schemaMismatchSeen[kindLabel] = true
				stats.SchemaMismatchKinds = append(stats.SchemaMismatchKinds, kindLabel)
			}
			logger.WithFields(log.Fields{"event": "schema_mismatch"}).Debug("skipping unrecognized record shape")
		}

		offset += consumed
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return stats, markFailed(chatlakeerr.NewIoError(chatlakeerr.IoOther, "reading source raw log", readErr))
		}
	}

	written, err := batches.Flush()
	if err != nil {
		// Per the failure table: transient I/O on a batch write aborts the
		// run without advancing the checkpoint.
		return stats, markFailed(err)
	}
	stats.PartitionsWritten = written

	var newCp = checkpoint.Checkpoint{
		SourcePath:          sourcePath,
		LastProcessedOffset: offset,
		LastProcessedKey:    lastKey,
		RecordCount:         cp.RecordCount + stats.NewRecords,
		Status:              checkpoint.StatusCompleted,
		SourceContentHash:   contentHash,
	}
	if err := e.CheckpointStore.Save(newCp); err != nil {
		return stats, err
	}

	logger.WithFields(log.Fields{
		"new_records":     stats.NewRecords,
		"duplicates":      stats.DuplicateCount,
		"malformed":       stats.MalformedCount,
		"partitions":      len(stats.PartitionsWritten),
	}).Info("compaction run completed")

	return stats, nil
}

func firstFieldKind(raw json.RawMessage) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "non-object"
	}
	var keys = make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return "empty-object"
	}
	return fmt.Sprintf("%d-field object", len(keys))
}

func (e *Engine) logger() *log.Logger {
	if e.Log != nil {
		return e.Log
	}
	return log.StandardLogger()
}

// estimatedRowCount is a coarse sizing hint for the dedup index; a precise
// count isn't required, only whether we're comfortably below the
// exact-hash-set threshold.
func (e *Engine) estimatedRowCount() int {
	return e.BatchSize * 8
}

// seedDedupFromExistingPartitions loads msg_ids already published for the
// partitions this source's records are likely to land in, so re-running
// compaction after a batch-published-but-checkpoint-unadvanced crash
// correctly filters out everything already safe on disk (the exactly-once
// proof sketch of §4.4).
func (e *Engine) seedDedupFromExistingPartitions(dedup *dedupIndex, sourcePath string) {
	// The source file name for a day log is "<date>.jsonl"; its records can
	// only land in that day's own partition (create_time is intrinsic to
	// the record, but in practice ingestion and message time are the same
	// UTC day for this pipeline's webhook source), so we scan that day plus
	// a window of neighbours to be safe against clock skew between the
	// ingesting client and the server. The window is intentionally wider
	// than the ±1 day a single skewed clock would need, since the webhook
	// source's Non-goals don't rule out a backfill client replaying old
	// deliveries under today's date; see DESIGN.md for the residual risk
	// a create_time outside this window still carries.
	var base = filepath.Base(sourcePath)
	var dateStr = base[:len(base)-len(filepath.Ext(base))]
	t, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return
	}
	for _, delta := range []int{-3, -2, -1, 0, 1, 2, 3} {
		var day = t.AddDate(0, 0, delta)
		year, month, dom := columnar.PartitionForTime(day)
		var dir = columnar.PartitionDir(e.PartitionRoot, year, month, dom)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || len(entry.Name()) == 0 || entry.Name()[0] == '.' {
				continue
			}
			rows, err := columnar.ReadMessages(filepath.Join(dir, entry.Name()), []string{"msg_id"}, columnar.MessageFilter{})
			if err != nil {
				continue
			}
			for _, row := range rows {
				dedup.Add(row.MsgID)
			}
		}
	}
}
