// Package normalize transforms canonical query rows into the enriched,
// prompt-ready messages the analysis pipeline batches and feeds to the
// LLM client.
package normalize

import (
	"strings"
	"time"

	"github.com/sqrtqiezi/diting/internal/canonical"
	"github.com/sqrtqiezi/diting/internal/reply"
)

// maxExcerptRunes bounds the reply-context excerpt shown in a display
// line, per spec.md §4.7.
const maxExcerptRunes = 30

// Normalized is one enriched, prompt-ready message.
type Normalized struct {
	MsgID       string
	Sender      string
	TimeLabel   string
	Content     string
	ReferMsg    *reply.Reference
	DisplayLine string
}

// Message resolves one canonical row into its enriched form, in the
// given display location (the local zone create_time is formatted in).
func Message(m canonical.Message, loc *time.Location) Normalized {
	if loc == nil {
		loc = time.Local
	}

	var sender = m.FromUser
	if m.IsChatroomMsg && m.ChatroomSender != "" {
		sender = m.ChatroomSender
	}

	var content = cleanContent(m.Content)
	var timeLabel = m.CreateTime.In(loc).Format("15:04")

	var ref *reply.Reference
	if r, ok := reply.Extract(m.Content); ok {
		ref = r
		// The raw content is the embedded reference document itself; the
		// sender's actual text lives in its title.
		content = cleanContent(r.Title)
	}

	var n = Normalized{
		MsgID:     m.MsgID,
		Sender:    sender,
		TimeLabel: timeLabel,
		Content:   content,
		ReferMsg:  ref,
	}
	n.DisplayLine = buildDisplayLine(n)
	return n
}

func cleanContent(content string) string {
	var replaced = strings.ReplaceAll(content, "\n", " ")
	replaced = strings.ReplaceAll(replaced, "\r", " ")
	return strings.TrimSpace(replaced)
}

func buildDisplayLine(n Normalized) string {
	var text = n.Content
	if n.ReferMsg != nil {
		text = replyPrefix(n.ReferMsg) + " " + text
	}
	return "[" + n.MsgID + "] " + n.TimeLabel + " " + n.Sender + ": " + text
}

func replyPrefix(ref *reply.Reference) string {
	return "[Reply @" + ref.DisplayName + ": " + excerpt(ref.Content) + "]"
}

func excerpt(content string) string {
	var runes = []rune(cleanContent(content))
	if len(runes) <= maxExcerptRunes {
		return string(runes)
	}
	return string(runes[:maxExcerptRunes])
}
