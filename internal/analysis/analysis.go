// Package analysis implements the per-chatroom, per-date orchestrator:
// query, normalize, batch, drive the LLM, merge, and emit a topic-summary
// record, tracking run status in the metadata store through the
// pending->running->{completed|completed-partial|failed} state machine.
package analysis

import (
	"context"
	"iter"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sqrtqiezi/diting/internal/batch"
	"github.com/sqrtqiezi/diting/internal/canonical"
	"github.com/sqrtqiezi/diting/internal/llm"
	"github.com/sqrtqiezi/diting/internal/merge"
	"github.com/sqrtqiezi/diting/internal/metadata"
	"github.com/sqrtqiezi/diting/internal/normalize"
	"github.com/sqrtqiezi/diting/internal/query"
)

// MessageQuerier is the subset of query.Surface the orchestrator needs,
// narrowed for testability.
type MessageQuerier interface {
	QueryMessages(start, end time.Time, filters query.Filters, columns []string) iter.Seq2[canonical.Message, error]
}

// Analyzer drives analyze_batch per batch; llm.Client satisfies this.
type Analyzer interface {
	AnalyzeBatch(ctx context.Context, b batch.Batch) ([]llm.Topic, error)
}

// Result is the per-chatroom-date output the orchestrator emits.
type Result struct {
	Chatroom       string
	Date           time.Time
	Status         metadata.RunStatus
	Topics         []llm.Topic
	BatchFailures  int
	TotalBatches   int
}

// TopicSummary is one emitted topic record, matching the glossary shape
// of spec.md §3.
type TopicSummary struct {
	Chatroom     string
	DateRange    [2]time.Time
	Title        string
	SummaryText  string
	Keywords     []string
	Participants []string
	MessageIDs   []string
	Confidence   float64
	TimeRange    [2]time.Time
	Notes        string
}

// Orchestrator runs one chatroom-date analysis per spec.md §4.11.
type Orchestrator struct {
	Querier           MessageQuerier
	Analyzer          Analyzer
	Merger            merge.Strategy
	MetadataStore     *metadata.Store
	MaxTokensPerBatch int
	Location          *time.Location
	Log               *log.Logger
}

// Run executes the pending->running->{completed|completed-partial|failed}
// state machine for one (chatroom, date) pair.
func (o *Orchestrator) Run(ctx context.Context, chatroom string, date time.Time) (Result, error) {
	var runDate = date.Format("2006-01-02")
	var result = Result{Chatroom: chatroom, Date: date}
	var logger = o.logger().WithFields(log.Fields{"chatroom": chatroom, "run_date": runDate})

	if err := o.MetadataStore.StartRun(chatroom, runDate, time.Now().UTC()); err != nil {
		return result, err
	}
	if err := o.MetadataStore.TransitionRun(chatroom, runDate, metadata.RunRunning, time.Time{}, 0, ""); err != nil {
		return result, err
	}

	var dayStart = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	var dayEnd = dayStart.AddDate(0, 0, 1).Add(-time.Nanosecond)

	messages, err := query.Collect(o.Querier.QueryMessages(dayStart, dayEnd, query.Filters{Chatroom: chatroom}, nil))
	if err != nil {
		o.fail(chatroom, runDate, err)
		return result, err
	}

	if len(messages) == 0 {
		result.Status = metadata.RunCompleted
		if err := o.MetadataStore.TransitionRun(chatroom, runDate, metadata.RunCompleted, time.Now().UTC(), 0, ""); err != nil {
			return result, err
		}
		logger.Info("analysis run completed with zero messages")
		return result, nil
	}

	var loc = o.Location
	if loc == nil {
		loc = time.Local
	}
	var normalized = make([]normalize.Normalized, 0, len(messages))
	for _, m := range messages {
		normalized = append(normalized, normalize.Message(m, loc))
	}

	var batcher = batch.New(o.MaxTokensPerBatch)
	var batches = batcher.Batch(normalized)
	result.TotalBatches = len(batches)

	var batchTopics [][]llm.Topic
	for _, b := range batches {
		select {
		case <-ctx.Done():
			logger.Warn("analysis run cancelled between batches")
			result.Status = metadata.RunCompletedPartial
			if err := o.MetadataStore.TransitionRun(chatroom, runDate, metadata.RunCompletedPartial, time.Now().UTC(), 0, ctx.Err().Error()); err != nil {
				return result, err
			}
			return result, nil
		default:
		}

		topics, err := o.Analyzer.AnalyzeBatch(ctx, b)
		if err != nil {
			result.BatchFailures++
			logger.WithField("event", "batch_failed").Warn(err)
			continue
		}
		batchTopics = append(batchTopics, topics)
	}

	var merged = o.merger().Merge(batchTopics)
	result.Topics = merged

	result.Status = metadata.RunCompleted
	if result.BatchFailures > 0 {
		result.Status = metadata.RunCompletedPartial
	}
	if err := o.MetadataStore.TransitionRun(chatroom, runDate, result.Status, time.Now().UTC(), len(merged), ""); err != nil {
		return result, err
	}

	logger.WithFields(log.Fields{
		"topics":        len(merged),
		"batch_failures": result.BatchFailures,
		"total_batches":  result.TotalBatches,
	}).Info("analysis run finished")

	return result, nil
}

// ToTopicSummaries projects a Result's merged topics into the fuller
// persisted record shape, attaching chatroom/date context the LLM
// response itself doesn't carry.
func ToTopicSummaries(chatroom string, date time.Time, topics []llm.Topic) []TopicSummary {
	var dateRange = [2]time.Time{
		time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC),
		time.Date(date.Year(), date.Month(), date.Day(), 23, 59, 59, 0, time.UTC),
	}
	var out = make([]TopicSummary, 0, len(topics))
	for _, t := range topics {
		out = append(out, TopicSummary{
			Chatroom:     chatroom,
			DateRange:    dateRange,
			Title:        t.Summary,
			SummaryText:  t.Summary,
			Keywords:     t.Keywords,
			Participants: t.Participants,
			MessageIDs:   t.MessageIDs,
			Confidence:   t.Confidence,
			TimeRange:    t.TimeRange,
			Notes:        t.Notes,
		})
	}
	return out
}

func (o *Orchestrator) fail(chatroom, runDate string, cause error) {
	_ = o.MetadataStore.TransitionRun(chatroom, runDate, metadata.RunFailed, time.Now().UTC(), 0, cause.Error())
}

func (o *Orchestrator) merger() merge.Strategy {
	if o.Merger != nil {
		return o.Merger
	}
	return merge.New(merge.DefaultThreshold)
}

func (o *Orchestrator) logger() *log.Logger {
	if o.Log != nil {
		return o.Log
	}
	return log.StandardLogger()
}
