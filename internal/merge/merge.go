// Package merge consolidates topics emitted by adjacent batches that
// discuss the same conversation thread, per spec.md §4.10.
package merge

import (
	"strings"
	"time"
	"unicode"

	"github.com/sqrtqiezi/diting/internal/llm"
)

// DefaultThreshold is the similarity score at or above which two adjacent
// topics are considered the same thread.
const DefaultThreshold = 0.35

// DefaultTimeBonus is the score added when two topics' time ranges touch
// or overlap, matching the configuration surface's analysis.time_bonus.
const DefaultTimeBonus = 0.1

// Strategy is the pluggable merge operation the orchestrator invokes;
// an alternative clustering approach need only implement this.
type Strategy interface {
	Merge(batchTopics [][]llm.Topic) []llm.Topic
}

// JaccardMerger implements Strategy using symmetric Jaccard similarity
// over normalized keyword sets, plus a time-range-overlap bonus,
// restricted to consecutive-batch comparisons.
type JaccardMerger struct {
	Threshold float64
	TimeBonus float64
}

func New(threshold float64) *JaccardMerger {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &JaccardMerger{Threshold: threshold, TimeBonus: DefaultTimeBonus}
}

// NewWithTimeBonus builds a JaccardMerger with an explicit time-overlap
// bonus, for callers wiring both configuration knobs through.
func NewWithTimeBonus(threshold, timeBonus float64) *JaccardMerger {
	var m = New(threshold)
	m.TimeBonus = timeBonus
	return m
}

// Merge flattens batchTopics in original batch order, then repeatedly
// scans adjacent pairs for merges until a full pass yields none.
func (m *JaccardMerger) Merge(batchTopics [][]llm.Topic) []llm.Topic {
	var topics []llm.Topic
	for _, bt := range batchTopics {
		topics = append(topics, bt...)
	}

	for {
		var merged, didMerge = m.onePass(topics)
		topics = merged
		if !didMerge {
			break
		}
	}
	return topics
}

func (m *JaccardMerger) onePass(topics []llm.Topic) ([]llm.Topic, bool) {
	if len(topics) < 2 {
		return topics, false
	}

	var out []llm.Topic
	var didMerge bool
	var i = 0
	for i < len(topics) {
		if i+1 < len(topics) && m.similarity(topics[i], topics[i+1]) >= m.Threshold {
			out = append(out, mergeTopics(topics[i], topics[i+1]))
			didMerge = true
			i += 2
			continue
		}
		out = append(out, topics[i])
		i++
	}
	return out, didMerge
}

func (m *JaccardMerger) similarity(a, b llm.Topic) float64 {
	var ka = normalizeKeywords(keywordsOf(a))
	var kb = normalizeKeywords(keywordsOf(b))
	var jaccard = jaccardIndex(ka, kb)

	var bonus float64
	if rangesOverlap(a.TimeRange, b.TimeRange) {
		bonus = m.TimeBonus
	}
	var score = jaccard + bonus
	if score > 1 {
		score = 1
	}
	return score
}

// keywordsOf returns a topic's keyword set, falling back to the words of
// its summary text when the model didn't emit an explicit keywords
// field (an optional, not required, part of the output protocol).
func keywordsOf(t llm.Topic) []string {
	if len(t.Keywords) > 0 {
		return t.Keywords
	}
	return strings.Fields(t.Summary)
}

func normalizeKeywords(words []string) map[string]bool {
	var set = make(map[string]bool, len(words))
	for _, w := range words {
		var cleaned = stripPunctuation(strings.ToLower(w))
		if cleaned != "" {
			set[cleaned] = true
		}
	}
	return set
}

func stripPunctuation(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func jaccardIndex(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	var intersection int
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	var union = len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func rangesOverlap(a, b [2]time.Time) bool {
	if a[0].IsZero() || a[1].IsZero() || b[0].IsZero() || b[1].IsZero() {
		return false
	}
	return !a[1].Before(b[0]) && !b[1].Before(a[0])
}

func mergeTopics(earlier, later llm.Topic) llm.Topic {
	var summary = later.Summary
	if len(later.Summary) < len(earlier.Summary)/2 {
		summary = earlier.Summary
	}

	return llm.Topic{
		Summary:      summary,
		Keywords:     unionStrings(keywordsOf(earlier), keywordsOf(later)),
		Participants: unionStrings(earlier.Participants, later.Participants),
		TimeRange:    unionTimeRange(earlier.TimeRange, later.TimeRange),
		MessageIDs:   unionStrings(earlier.MessageIDs, later.MessageIDs),
		Confidence:   minFloat(earlier.Confidence, later.Confidence),
		Notes:        strings.TrimSpace(earlier.Notes + " " + later.Notes),
	}
}

func unionTimeRange(a, b [2]time.Time) [2]time.Time {
	var start = a[0]
	if !b[0].IsZero() && (start.IsZero() || b[0].Before(start)) {
		start = b[0]
	}
	var end = a[1]
	if b[1].After(end) {
		end = b[1]
	}
	return [2]time.Time{start, end}
}

func unionStrings(a, b []string) []string {
	var seen = make(map[string]bool, len(a)+len(b))
	var out []string
	for _, id := range append(append([]string{}, a...), b...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
