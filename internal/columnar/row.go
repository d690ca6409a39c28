// Package columnar implements the partitioned .col file format: canonical
// messages and contact-sync records written as parquet files with
// dictionary encoding on the low-cardinality columns named in the
// specification's external interfaces section, plus a small compressed
// metadata sidecar used by the metadata store's partition cache.
package columnar

// MessageRow is the on-disk shape of one canonical message, matching the
// canonical columnar schema: create_time as a UTC timestamp in seconds,
// is_chatroom_msg as 0/1, source always a string.
type MessageRow struct {
	MsgID          string `parquet:"msg_id"`
	FromUser       string `parquet:"from_user,dict"`
	ToUser         string `parquet:"to_user,dict"`
	Chatroom       string `parquet:"chatroom,dict,optional"`
	ChatroomSender string `parquet:"chatroom_sender,optional"`
	MsgType        int64  `parquet:"msg_type,dict"`
	CreateTime     int64  `parquet:"create_time"`
	IsChatroomMsg  int64  `parquet:"is_chatroom_msg"`
	Content        string `parquet:"content"`
	Source         string `parquet:"source"`
	GUID           string `parquet:"guid,optional"`
	NotifyType     string `parquet:"notify_type,optional"`
	IngestionTime  int64  `parquet:"ingestion_time"`
}

// ContactRow is the on-disk shape of one contact-sync record.
type ContactRow struct {
	Username      string `parquet:"username,dict"`
	Nickname      string `parquet:"nickname,optional"`
	Remark        string `parquet:"remark,optional"`
	IngestionTime int64  `parquet:"ingestion_time"`
}
