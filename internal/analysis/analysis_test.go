package analysis

import (
	"context"
	"iter"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sqrtqiezi/diting/internal/batch"
	"github.com/sqrtqiezi/diting/internal/canonical"
	"github.com/sqrtqiezi/diting/internal/llm"
	"github.com/sqrtqiezi/diting/internal/metadata"
	"github.com/sqrtqiezi/diting/internal/query"
)

type fakeQuerier struct {
	messages []canonical.Message
	err      error
}

func (f *fakeQuerier) QueryMessages(start, end time.Time, filters query.Filters, columns []string) iter.Seq2[canonical.Message, error] {
	return func(yield func(canonical.Message, error) bool) {
		if f.err != nil {
			yield(canonical.Message{}, f.err)
			return
		}
		for _, m := range f.messages {
			if !yield(m, nil) {
				return
			}
		}
	}
}

type fakeAnalyzer struct {
	topics [][]llm.Topic
	errs   []error
	calls  int
}

func (f *fakeAnalyzer) AnalyzeBatch(ctx context.Context, b batch.Batch) ([]llm.Topic, error) {
	var i = f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.topics) {
		return f.topics[i], nil
	}
	return nil, nil
}

func newMetadataStore(t *testing.T) *metadata.Store {
	t.Helper()
	store, err := metadata.Open(filepath.Join(t.TempDir(), "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunWithZeroMessagesCompletesEmpty(t *testing.T) {
	var o = &Orchestrator{
		Querier:           &fakeQuerier{},
		Analyzer:          &fakeAnalyzer{},
		MetadataStore:     newMetadataStore(t),
		MaxTokensPerBatch: 1000,
	}

	result, err := o.Run(context.Background(), "room1", time.Date(2026, 1, 23, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, metadata.RunCompleted, result.Status)
	require.Empty(t, result.Topics)
}

func TestRunCompletesWithAllBatchesSucceeding(t *testing.T) {
	var ct = time.Date(2026, 1, 23, 9, 0, 0, 0, time.UTC)
	var messages = []canonical.Message{
		{MsgID: "1", FromUser: "u1", Content: "hi", CreateTime: ct},
		{MsgID: "2", FromUser: "u2", Content: "hello", CreateTime: ct.Add(time.Minute)},
	}
	var topics = []llm.Topic{{Summary: "greeting", MessageIDs: []string{"1", "2"}, Confidence: 0.9}}

	var o = &Orchestrator{
		Querier:           &fakeQuerier{messages: messages},
		Analyzer:          &fakeAnalyzer{topics: [][]llm.Topic{topics}},
		MetadataStore:     newMetadataStore(t),
		MaxTokensPerBatch: 100000,
	}

	result, err := o.Run(context.Background(), "room1", time.Date(2026, 1, 23, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, metadata.RunCompleted, result.Status)
	require.Len(t, result.Topics, 1)
	require.Zero(t, result.BatchFailures)
}

func TestRunDegradesToPartialOnBatchFailure(t *testing.T) {
	var ct = time.Date(2026, 1, 23, 9, 0, 0, 0, time.UTC)
	// Force two batches by using a tiny token budget.
	var messages = []canonical.Message{
		{MsgID: "1", FromUser: "u1", Content: "a message with enough words to cost tokens", CreateTime: ct},
		{MsgID: "2", FromUser: "u2", Content: "another message with plenty of words here too", CreateTime: ct.Add(time.Minute)},
	}

	var o = &Orchestrator{
		Querier:  &fakeQuerier{messages: messages},
		Analyzer: &fakeAnalyzer{errs: []error{assertErr{}, nil}, topics: [][]llm.Topic{nil, {{Summary: "ok", MessageIDs: []string{"2"}}}}},
		MetadataStore:     newMetadataStore(t),
		MaxTokensPerBatch: 5,
	}

	result, err := o.Run(context.Background(), "room1", time.Date(2026, 1, 23, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, metadata.RunCompletedPartial, result.Status)
	require.Equal(t, 1, result.BatchFailures)
}

type assertErr struct{}

func (assertErr) Error() string { return "batch failed" }

func TestRunRespectsCancellationBetweenBatches(t *testing.T) {
	var ct = time.Date(2026, 1, 23, 9, 0, 0, 0, time.UTC)
	var messages = []canonical.Message{
		{MsgID: "1", FromUser: "u1", Content: "hi", CreateTime: ct},
	}

	var o = &Orchestrator{
		Querier:           &fakeQuerier{messages: messages},
		Analyzer:          &fakeAnalyzer{},
		MetadataStore:     newMetadataStore(t),
		MaxTokensPerBatch: 1000,
	}

	var ctx, cancel = context.WithCancel(context.Background())
	cancel()

	result, err := o.Run(ctx, "room1", time.Date(2026, 1, 23, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, metadata.RunCompletedPartial, result.Status)
}

func TestToTopicSummariesAttachesChatroomAndDateContext(t *testing.T) {
	var topics = []llm.Topic{{Summary: "s", MessageIDs: []string{"1"}, Confidence: 0.5}}
	var summaries = ToTopicSummaries("room1", time.Date(2026, 1, 23, 0, 0, 0, 0, time.UTC), topics)
	require.Len(t, summaries, 1)
	require.Equal(t, "room1", summaries[0].Chatroom)
	require.Equal(t, "s", summaries[0].SummaryText)
}
