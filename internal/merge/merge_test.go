package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sqrtqiezi/diting/internal/llm"
)

func topicAt(summary string, ids []string, start, end time.Time) llm.Topic {
	return llm.Topic{Summary: summary, MessageIDs: ids, TimeRange: [2]time.Time{start, end}, Confidence: 0.8}
}

func TestMergeCombinesSimilarAdjacentTopics(t *testing.T) {
	var t0 = time.Date(2026, 1, 23, 9, 0, 0, 0, time.UTC)
	var t1 = time.Date(2026, 1, 23, 9, 5, 0, 0, time.UTC)
	var t2 = time.Date(2026, 1, 23, 9, 10, 0, 0, time.UTC)

	var batchA = []llm.Topic{topicAt("discussing the quarterly budget review meeting", []string{"1", "2"}, t0, t1)}
	var batchB = []llm.Topic{topicAt("budget review meeting continues with quarterly numbers", []string{"3"}, t1, t2)}

	var merger = New(DefaultThreshold)
	var merged = merger.Merge([][]llm.Topic{batchA, batchB})

	require.Len(t, merged, 1)
	require.ElementsMatch(t, []string{"1", "2", "3"}, merged[0].MessageIDs)
}

func TestMergeLeavesDissimilarTopicsUnmerged(t *testing.T) {
	var t0 = time.Date(2026, 1, 23, 9, 0, 0, 0, time.UTC)
	var t1 = time.Date(2026, 1, 23, 9, 5, 0, 0, time.UTC)
	var t2 = time.Date(2026, 1, 23, 12, 0, 0, 0, time.UTC)
	var t3 = time.Date(2026, 1, 23, 12, 5, 0, 0, time.UTC)

	var batchA = []llm.Topic{topicAt("lunch plans for friday", []string{"1"}, t0, t1)}
	var batchB = []llm.Topic{topicAt("server outage investigation", []string{"2"}, t2, t3)}

	var merger = New(DefaultThreshold)
	var merged = merger.Merge([][]llm.Topic{batchA, batchB})
	require.Len(t, merged, 2)
}

func TestMergeKeepsLaterSummaryUnlessMuchShorter(t *testing.T) {
	var t0 = time.Date(2026, 1, 23, 9, 0, 0, 0, time.UTC)
	var t1 = time.Date(2026, 1, 23, 9, 5, 0, 0, time.UTC)

	var a = topicAt("quarterly budget review planning session notes", []string{"1"}, t0, t0)
	a.Keywords = []string{"budget", "quarterly", "review"}
	var b = topicAt("ok", []string{"2"}, t0, t1)
	b.Keywords = []string{"budget", "quarterly", "review"}

	var merger = New(0.1)
	var merged = merger.Merge([][]llm.Topic{{a}, {b}})
	require.Len(t, merged, 1)
	require.Equal(t, a.Summary, merged[0].Summary)
}

func TestMergeIsIterativeAcrossMultipleBatches(t *testing.T) {
	var t0 = time.Date(2026, 1, 23, 9, 0, 0, 0, time.UTC)
	var t1 = time.Date(2026, 1, 23, 9, 5, 0, 0, time.UTC)
	var t2 = time.Date(2026, 1, 23, 9, 10, 0, 0, time.UTC)

	var a = topicAt("project alpha kickoff", []string{"1"}, t0, t1)
	a.Keywords = []string{"project", "alpha", "kickoff"}
	var b = topicAt("project alpha kickoff continued", []string{"2"}, t1, t2)
	b.Keywords = []string{"project", "alpha", "kickoff"}
	var c = topicAt("project alpha kickoff wrap up", []string{"3"}, t2, t2)
	c.Keywords = []string{"project", "alpha", "kickoff"}

	var merger = New(0.3)
	var merged = merger.Merge([][]llm.Topic{{a}, {b}, {c}})
	require.Len(t, merged, 1)
	require.ElementsMatch(t, []string{"1", "2", "3"}, merged[0].MessageIDs)
}
