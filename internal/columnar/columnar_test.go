package columnar

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sqrtqiezi/diting/internal/chatlakeerr"
)

func TestWriteMessagesThenReadMessagesRoundTrips(t *testing.T) {
	var rows = []MessageRow{
		{MsgID: "1", FromUser: "alice", ToUser: "bot", MsgType: 1, CreateTime: 1769000000, Content: "hi", Source: "wechat", IngestionTime: 1769000001},
		{MsgID: "2", FromUser: "bob", ToUser: "bot", Chatroom: "room1", ChatroomSender: "bob", MsgType: 1, CreateTime: 1769000100, Content: "hello", Source: "wechat", IngestionTime: 1769000101},
	}

	var path = filepath.Join(t.TempDir(), "messages"+Extension)
	require.NoError(t, WriteMessages(path, rows, "snappy"))

	got, err := ReadMessages(path, nil, MessageFilter{})
	require.NoError(t, err)
	require.Equal(t, rows, got)
}

func TestWriteMessagesWithZstdCodecRoundTrips(t *testing.T) {
	var rows = []MessageRow{
		{MsgID: "1", FromUser: "alice", ToUser: "bot", MsgType: 1, CreateTime: 1769000000, Content: "hi", Source: "wechat", IngestionTime: 1769000001},
	}
	var path = filepath.Join(t.TempDir(), "messages"+Extension)
	require.NoError(t, WriteMessages(path, rows, "zstd"))

	got, err := ReadMessages(path, nil, MessageFilter{})
	require.NoError(t, err)
	require.Equal(t, rows, got)
}

func TestWriteContactsThenReadRoundTrips(t *testing.T) {
	var rows = []ContactRow{
		{Username: "alice", Nickname: "Alice A.", IngestionTime: 1769000000},
		{Username: "bob", Remark: "work friend", IngestionTime: 1769000100},
	}
	var path = filepath.Join(t.TempDir(), "contacts"+Extension)
	require.NoError(t, WriteContacts(path, rows, "snappy"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestReadMessagesOnTruncatedFileReturnsTruncatedIoError(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "truncated"+Extension)
	require.NoError(t, os.WriteFile(path, []byte("not a parquet file"), 0o644))

	_, err := ReadMessages(path, nil, MessageFilter{})
	require.Error(t, err)
	var ioErr *chatlakeerr.IoError
	require.ErrorAs(t, err, &ioErr)
	require.Equal(t, chatlakeerr.IoTruncated, ioErr.Reason)
}

func TestPartitionDirFormatsZeroPaddedKeyValueSegments(t *testing.T) {
	var dir = PartitionDir("/data/lake", 2026, 1, 5)
	require.Equal(t, filepath.Join("/data/lake", "year=2026", "month=01", "day=05"), dir)
}

func TestPartitionForTimeUsesUTCCalendarDate(t *testing.T) {
	var t0 = time.Date(2026, 1, 23, 0, 0, 0, 0, time.UTC)
	year, month, day := PartitionForTime(t0)
	require.Equal(t, 2026, year)
	require.Equal(t, 1, month)
	require.Equal(t, 23, day)
}

func TestStagingDirIsScopedUnderTmpByBatchID(t *testing.T) {
	var dir = StagingDir("/data/lake", "batch-1")
	require.Equal(t, filepath.Join("/data/lake", ".tmp", "batch-1"), dir)
}

func TestEncodeDecodeStatsRoundTripsForEachCodec(t *testing.T) {
	var stats = PartitionStats{
		Year: 2026, Month: 1, Day: 23,
		RowCount: 42, ByteSize: 4096,
		MinCreateTime: 1769000000, MaxCreateTime: 1769010000,
		Codec: "snappy",
	}

	for _, codec := range []string{"", "snappy", "zstd"} {
		blob, err := EncodeStats(stats, codec)
		require.NoError(t, err)

		got, err := DecodeStats(blob, codec)
		require.NoError(t, err)
		require.Equal(t, stats, got)
	}
}

func TestDecodeStatsRejectsUnknownCodec(t *testing.T) {
	_, err := DecodeStats([]byte("irrelevant"), "lz4")
	require.Error(t, err)
}
