// Package canonical holds the canonical message and contact-sync record
// types shared by compaction, the query surface, and the analysis
// pipeline — the data model's central shapes, independent of how they're
// physically stored.
package canonical

import "time"

// Message is one canonical chat message, carried forward from a raw
// record whose parsed object matched the messaging schema.
type Message struct {
	MsgID          string
	FromUser       string
	ToUser         string
	Chatroom       string
	ChatroomSender string
	MsgType        int64
	CreateTime     time.Time
	IsChatroomMsg  bool
	Content        string
	Source         string
	GUID           string
	NotifyType     string
	IngestionTime  time.Time
}

// Contact is one contact-sync record, keyed by Username; later records for
// the same key logically supersede earlier ones at read time.
type Contact struct {
	Username      string
	Nickname      string
	Remark        string
	IngestionTime time.Time
}
