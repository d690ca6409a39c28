package query

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sqrtqiezi/diting/internal/columnar"
)

func writePartitionMessages(t *testing.T, root string, year, month, day int, rows []columnar.MessageRow) {
	t.Helper()
	var dir = columnar.PartitionDir(root, year, month, day)
	require.NoError(t, columnar.WriteMessages(filepath.Join(dir, "batch-1"+columnar.Extension), rows, "snappy"))
}

func TestQueryMessagesPrunesToDateRangeAndFilters(t *testing.T) {
	var root = t.TempDir()
	writePartitionMessages(t, root, 2026, 1, 23, []columnar.MessageRow{
		{MsgID: "A", FromUser: "u1", Chatroom: "room1", MsgType: 1, CreateTime: 1769130000, IngestionTime: 1769130000},
		{MsgID: "B", FromUser: "u2", Chatroom: "room2", MsgType: 1, CreateTime: 1769130100, IngestionTime: 1769130100},
	})
	writePartitionMessages(t, root, 2026, 1, 24, []columnar.MessageRow{
		{MsgID: "C", FromUser: "u1", Chatroom: "room1", MsgType: 1, CreateTime: 1769220000, IngestionTime: 1769220000},
	})
	// Outside the queried range entirely.
	writePartitionMessages(t, root, 2026, 2, 1, []columnar.MessageRow{
		{MsgID: "Z", FromUser: "u1", Chatroom: "room1", MsgType: 1, CreateTime: 1769990000, IngestionTime: 1769990000},
	})

	var surface = New(root)
	var start = time.Date(2026, 1, 23, 0, 0, 0, 0, time.UTC)
	var end = time.Date(2026, 1, 24, 0, 0, 0, 0, time.UTC)

	msgs, err := Collect(surface.QueryMessages(start, end, Filters{}, nil))
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	msgs, err = Collect(surface.QueryMessages(start, end, Filters{Chatroom: "room1"}, nil))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		require.Equal(t, "room1", m.Chatroom)
	}
}

func TestQueryMessagesProjectsRequestedColumns(t *testing.T) {
	var root = t.TempDir()
	writePartitionMessages(t, root, 2026, 1, 23, []columnar.MessageRow{
		{MsgID: "A", FromUser: "u1", Chatroom: "room1", Content: "hello", MsgType: 1, CreateTime: 1769130000, IngestionTime: 1769130000},
	})

	var surface = New(root)
	var start = time.Date(2026, 1, 23, 0, 0, 0, 0, time.UTC)

	msgs, err := Collect(surface.QueryMessages(start, start, Filters{}, []string{"msg_id"}))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "A", msgs[0].MsgID)
	require.Empty(t, msgs[0].Content)
	require.Empty(t, msgs[0].Chatroom)
}

func TestQueryMessagesInvalidRange(t *testing.T) {
	var surface = New(t.TempDir())
	var start = time.Date(2026, 1, 24, 0, 0, 0, 0, time.UTC)
	var end = time.Date(2026, 1, 23, 0, 0, 0, 0, time.UTC)

	_, err := Collect(surface.QueryMessages(start, end, Filters{}, nil))
	require.Error(t, err)
}

func TestQueryMessagesStopsEarlyWhenConsumerBreaks(t *testing.T) {
	var root = t.TempDir()
	writePartitionMessages(t, root, 2026, 1, 23, []columnar.MessageRow{
		{MsgID: "A", FromUser: "u1", CreateTime: 1769130000, IngestionTime: 1769130000},
		{MsgID: "B", FromUser: "u1", CreateTime: 1769130100, IngestionTime: 1769130100},
	})

	var surface = New(root)
	var start = time.Date(2026, 1, 23, 0, 0, 0, 0, time.UTC)

	var seen int
	for _, err := range surface.QueryMessages(start, start, Filters{}, nil) {
		require.NoError(t, err)
		seen++
		break
	}
	require.Equal(t, 1, seen)
}

func TestQueryByIDsScansAllPartitions(t *testing.T) {
	var root = t.TempDir()
	writePartitionMessages(t, root, 2026, 1, 23, []columnar.MessageRow{
		{MsgID: "A", FromUser: "u1", CreateTime: 1769130000, IngestionTime: 1769130000},
	})
	writePartitionMessages(t, root, 2026, 3, 15, []columnar.MessageRow{
		{MsgID: "B", FromUser: "u2", CreateTime: 1773000000, IngestionTime: 1773000000},
	})

	var surface = New(root)
	msgs, err := Collect(surface.QueryByIDs([]string{"A", "B", "missing"}, nil))
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.MsgID)
	}
	require.ElementsMatch(t, []string{"A", "B"}, ids)
}

func TestQueryByIDsEmptyInput(t *testing.T) {
	var surface = New(t.TempDir())
	msgs, err := Collect(surface.QueryByIDs(nil, nil))
	require.NoError(t, err)
	require.Nil(t, msgs)
}

func TestQueryMessagesSkipsTruncatedAndDotFiles(t *testing.T) {
	var root = t.TempDir()
	var dir = columnar.PartitionDir(root, 2026, 1, 23)
	writePartitionMessages(t, root, 2026, 1, 23, []columnar.MessageRow{
		{MsgID: "A", FromUser: "u1", CreateTime: 1769130000, IngestionTime: 1769130000},
	})
	// A dotfile masquerading as a staged/temp artifact; must be ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".staging-batch"+columnar.Extension), []byte("not parquet"), 0o644))
	// A visible partition file that is truncated; must be skipped, not fail the query.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "truncated"+columnar.Extension), []byte("not parquet"), 0o644))

	var surface = New(root)
	var start = time.Date(2026, 1, 23, 0, 0, 0, 0, time.UTC)
	msgs, err := Collect(surface.QueryMessages(start, start, Filters{}, nil))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}
