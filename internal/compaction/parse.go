package compaction

import (
	"encoding/json"
	"time"

	"github.com/sqrtqiezi/diting/internal/canonical"
	"github.com/sqrtqiezi/diting/internal/chatlakeerr"
)

// rawMessageShape mirrors the wire field names of the upstream messaging
// payload (see spec.md §8 scenario 1), independent of the canonical field
// names used everywhere else in the pipeline.
type rawMessageShape struct {
	MsgID         string          `json:"msg_id"`
	FromUsername  string          `json:"from_username"`
	ToUsername    string          `json:"to_username"`
	Chatroom      string          `json:"chatroom"`
	ChatroomSender string         `json:"chatroom_sender"`
	MsgType       int64           `json:"msg_type"`
	CreateTime    int64           `json:"create_time"`
	IsChatroomMsg json.Number     `json:"is_chatroom_msg"`
	Content       string          `json:"content"`
	Source        json.RawMessage `json:"source"`
	GUID          string          `json:"guid"`
	NotifyType    string          `json:"notify_type"`
}

type rawContactShape struct {
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Remark   string `json:"remark"`
}

func parseMessage(parsed json.RawMessage, ingestionTime time.Time) (canonical.Message, error) {
	var raw rawMessageShape
	if err := json.Unmarshal(parsed, &raw); err != nil {
		return canonical.Message{}, chatlakeerr.NewParseError("decoding message-shaped record", err)
	}
	if raw.MsgID == "" {
		return canonical.Message{}, chatlakeerr.NewSchemaError("message record has empty msg_id")
	}

	var isChatroom bool
	if raw.IsChatroomMsg.String() != "" {
		n, err := raw.IsChatroomMsg.Int64()
		if err == nil {
			isChatroom = n != 0
		} else {
			isChatroom = raw.IsChatroomMsg.String() == "true"
		}
	}

	return canonical.Message{
		MsgID:          raw.MsgID,
		FromUser:       raw.FromUsername,
		ToUser:         raw.ToUsername,
		Chatroom:       raw.Chatroom,
		ChatroomSender: raw.ChatroomSender,
		MsgType:        raw.MsgType,
		CreateTime:     time.Unix(raw.CreateTime, 0).UTC(),
		IsChatroomMsg:  isChatroom,
		Content:        raw.Content,
		Source:         coerceSource(raw.Source),
		GUID:           raw.GUID,
		NotifyType:     raw.NotifyType,
		IngestionTime:  ingestionTime,
	}, nil
}

func parseContact(parsed json.RawMessage, ingestionTime time.Time) (canonical.Contact, error) {
	var raw rawContactShape
	if err := json.Unmarshal(parsed, &raw); err != nil {
		return canonical.Contact{}, chatlakeerr.NewParseError("decoding contact-shaped record", err)
	}
	if raw.Username == "" {
		return canonical.Contact{}, chatlakeerr.NewSchemaError("contact record has empty username")
	}
	return canonical.Contact{
		Username:      raw.Username,
		Nickname:      raw.Nickname,
		Remark:        raw.Remark,
		IngestionTime: ingestionTime,
	}, nil
}
