// Package llm drives a chat-completion model against a batch of display
// lines and parses its fenced-text response into topic records.
package llm

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/sqrtqiezi/diting/internal/batch"
	"github.com/sqrtqiezi/diting/internal/chatlakeerr"
)

const (
	resultStartSentinel = "<<<RESULT_START>>>"
	resultEndSentinel   = "<<<RESULT_END>>>"
)

// Topic is one clustered thread extracted from a batch's transcript.
// Keywords and Participants are optional fields the protocol tolerates
// beyond the two required ones (summary and message_ids); when the model omits
// them, the merger derives keywords from Summary instead.
type Topic struct {
	Summary      string
	Keywords     []string
	Participants []string
	TimeRange    [2]time.Time
	MessageIDs   []string
	Confidence   float64
	Notes        string
}

// Completer is the transport boundary to the model service; swapping
// providers means implementing this one method.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// RetryConfig controls the retry policy of Client.AnalyzeBatch.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialInterval: time.Second, MaxInterval: 10 * time.Second}
}

// Client drives analyze_batch (spec.md §4.9) against a Completer.
type Client struct {
	Completer Completer
	Retry     RetryConfig
	Log       *log.Logger
}

func New(completer Completer) *Client {
	return &Client{Completer: completer, Retry: defaultRetryConfig()}
}

// AnalyzeBatch renders prompts for b, calls the model with bounded
// exponential-backoff retry on transient failure classes, and parses the
// fenced-text response into topics.
func (c *Client) AnalyzeBatch(ctx context.Context, b batch.Batch) ([]Topic, error) {
	var systemPrompt = renderSystemPrompt()
	var userPrompt = renderUserPrompt(b)

	var response string
	var attempt int
	var retryCfg = c.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = defaultRetryConfig()
	}

	var policy = backoff.NewExponentialBackOff()
	policy.InitialInterval = retryCfg.InitialInterval
	policy.MaxInterval = retryCfg.MaxInterval
	var bounded backoff.BackOff = backoff.WithMaxRetries(policy, uint64(retryCfg.MaxAttempts-1))
	bounded = backoff.WithContext(bounded, ctx)

	var op = func() error {
		attempt++
		out, err := c.Completer.Complete(ctx, systemPrompt, userPrompt)
		if err == nil {
			response = out
			return nil
		}

		var llmErr *chatlakeerr.LlmError
		if asLlmError(err, &llmErr) && !llmErr.IsTransient() {
			return backoff.Permanent(err)
		}
		c.logger().WithFields(log.Fields{"event": "llm_retry", "attempt": attempt}).Warn("retrying llm call")
		return err
	}

	if err := backoff.Retry(op, bounded); err != nil {
		if perr, ok := err.(*backoff.PermanentError); ok {
			return nil, perr.Err
		}
		return nil, chatlakeerr.NewLlmError(chatlakeerr.LlmUnavailable, "exhausted retries calling model", err)
	}

	topics, parsed := parseResponse(response, c.logger())
	if parsed == 0 {
		return nil, chatlakeerr.NewLlmError(chatlakeerr.LlmProtocolError, "response contained zero parseable topics", nil)
	}
	return topics, nil
}

func asLlmError(err error, target **chatlakeerr.LlmError) bool {
	le, ok := err.(*chatlakeerr.LlmError)
	if !ok {
		return false
	}
	*target = le
	return true
}

func (c *Client) logger() *log.Logger {
	if c.Log != nil {
		return c.Log
	}
	return log.StandardLogger()
}

func renderSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a chat-log analyst. Split the provided transcript into topic threads.\n")
	b.WriteString("Use these signals, in priority order: explicit reply relations (highest priority), ")
	b.WriteString("question-answer pairing, semantic similarity, and time-proximity.\n")
	b.WriteString("Respond using exactly this fenced protocol:\n")
	b.WriteString(resultStartSentinel + "\n")
	b.WriteString("summary: <100-200 character summary>\n")
	b.WriteString("time_range: <start> to <end>\n")
	b.WriteString("message_ids: <comma-separated ids covering every message in the topic>\n")
	b.WriteString("confidence: <0.0-1.0>\n")
	b.WriteString("notes: <optional notes>\n")
	b.WriteString("keywords: <optional comma-separated keywords>\n")
	b.WriteString("participants: <optional comma-separated participant names>\n")
	b.WriteString("(blank line between topics)\n")
	b.WriteString(resultEndSentinel)
	return b.String()
}

func renderUserPrompt(b batch.Batch) string {
	var sb strings.Builder
	for _, m := range b.Messages {
		sb.WriteString(m.DisplayLine)
		sb.WriteString("\n")
	}
	return sb.String()
}

// parseResponse implements the lenient fenced-text parser of spec.md
// §4.9: unknown fields are ignored, topics missing required fields are
// dropped with a warning, and parsing never raises.
func parseResponse(response string, logger *log.Logger) ([]Topic, int) {
	var start = strings.Index(response, resultStartSentinel)
	var end = strings.LastIndex(response, resultEndSentinel)
	if start == -1 || end == -1 || end < start {
		return nil, 0
	}

	var body = response[start+len(resultStartSentinel) : end]
	var blocks = splitBlocks(body)

	var topics []Topic
	for _, block := range blocks {
		topic, ok := parseTopicBlock(block)
		if !ok {
			logger.WithField("event", "topic_dropped").Warn("dropping topic block missing required fields")
			continue
		}
		topics = append(topics, topic)
	}
	return topics, len(topics)
}

func splitBlocks(body string) []string {
	var lines = strings.Split(body, "\n")
	var blocks []string
	var current []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				blocks = append(blocks, strings.Join(current, "\n"))
				current = nil
			}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		blocks = append(blocks, strings.Join(current, "\n"))
	}
	return blocks
}

func parseTopicBlock(block string) (Topic, bool) {
	var fields = map[string]string{}
	var currentKey string
	for _, line := range strings.Split(block, "\n") {
		if idx := strings.Index(line, ":"); idx != -1 && isKnownField(strings.TrimSpace(line[:idx])) {
			currentKey = strings.TrimSpace(line[:idx])
			fields[currentKey] = strings.TrimSpace(line[idx+1:])
			continue
		}
		if currentKey != "" {
			fields[currentKey] += " " + strings.TrimSpace(line)
		}
	}

	var summary, hasSummary = fields["summary"]
	var idsRaw, hasIDs = fields["message_ids"]
	var confRaw, hasConf = fields["confidence"]
	if !hasSummary || !hasIDs || summary == "" || idsRaw == "" {
		return Topic{}, false
	}

	var ids []string
	for _, id := range strings.Split(idsRaw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return Topic{}, false
	}

	var confidence float64
	if hasConf {
		if v, err := strconv.ParseFloat(strings.TrimSpace(confRaw), 64); err == nil {
			confidence = v
		}
	}

	var start, end = parseTimeRange(fields["time_range"])

	return Topic{
		Summary:      summary,
		Keywords:     splitCommaList(fields["keywords"]),
		Participants: splitCommaList(fields["participants"]),
		TimeRange:    [2]time.Time{start, end},
		MessageIDs:   ids,
		Confidence:   confidence,
		Notes:        fields["notes"],
	}, true
}

func splitCommaList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func isKnownField(name string) bool {
	switch name {
	case "summary", "time_range", "message_ids", "confidence", "notes", "keywords", "participants":
		return true
	default:
		return false
	}
}

func parseTimeRange(raw string) (time.Time, time.Time) {
	var parts = strings.SplitN(raw, " to ", 2)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}
	}
	var layouts = []string{time.RFC3339, "15:04", "2006-01-02 15:04"}
	var parse = func(s string) time.Time {
		s = strings.TrimSpace(s)
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		return time.Time{}
	}
	return parse(parts[0]), parse(parts[1])
}
