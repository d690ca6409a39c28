package columnar

import (
	"errors"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/sqrtqiezi/diting/internal/chatlakeerr"
)

// MessageFilter restricts which rows ReadMessages materializes. A zero
// value matches every row. Equality-only: the query surface's Filters
// narrow to exact chatroom/from_user/msg_type matches, which is also the
// shape column statistics answer cheaply (min/max containment) without
// decoding a row group.
type MessageFilter struct {
	Chatroom string
	FromUser string
	MsgType  *int64
}

func (f MessageFilter) empty() bool {
	return f.Chatroom == "" && f.FromUser == "" && f.MsgType == nil
}

// ReadMessages reads the rows of the parquet file at path matching filter,
// projecting only columns (nil/empty projects every column). A truncated
// or otherwise corrupt file (e.g. a crash mid-write that somehow escaped
// the atomic-publish primitive) is reported as an IoError{truncated},
// letting the query surface skip it per the read-side atomicity rules
// rather than aborting the whole scan.
//
// Predicate pushdown: row groups whose column statistics rule out every
// row under filter are skipped without being decoded at all. Statistics
// only bound what a row group *might* contain, so rows surviving the
// row-group check are still re-filtered exactly by the caller.
func ReadMessages(path string, columns []string, filter MessageFilter) ([]MessageRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, chatlakeerr.NewIoError(chatlakeerr.IoOther, "opening columnar file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, chatlakeerr.NewIoError(chatlakeerr.IoOther, "stat columnar file", err)
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, chatlakeerr.NewIoError(chatlakeerr.IoTruncated, "opening parquet footer", err)
	}

	var schema = projectionSchema(columns)

	var rows []MessageRow
	for _, rg := range pf.RowGroups() {
		if !filter.empty() && !rowGroupMayMatch(rg, filter) {
			continue
		}

		var reader = parquet.NewGenericRowGroupReader[MessageRow](rg, schema)
		var buf = make([]MessageRow, 256)
		for {
			n, readErr := reader.Read(buf)
			rows = append(rows, buf[:n]...)
			if readErr != nil {
				reader.Close()
				if errors.Is(readErr, io.EOF) {
					break
				}
				return rows, chatlakeerr.NewIoError(chatlakeerr.IoTruncated, "reading parquet rows", readErr)
			}
			if n == 0 {
				break
			}
		}
	}
	return rows, nil
}

// projectionSchema returns the schema ReadMessages passes to the parquet
// reader: the full MessageRow schema when columns is empty, or a schema
// narrowed to just the named fields, so unrequested columns are never
// decoded off disk.
func projectionSchema(columns []string) *parquet.Schema {
	var full = parquet.SchemaOf(MessageRow{})
	if len(columns) == 0 {
		return full
	}
	var want = make(map[string]bool, len(columns))
	for _, c := range columns {
		want[c] = true
	}
	var group = make(parquet.Group, len(columns))
	for _, field := range full.Fields() {
		if want[field.Name()] {
			group[field.Name()] = field
		}
	}
	return parquet.NewSchema("message_projection", group)
}

// rowGroupMayMatch reports whether rg could contain a row satisfying
// filter, consulting each filtered column's page-level min/max statistics
// rather than reading any row. An unreadable or absent column index is
// treated as "might match" so pushdown is conservative, never
// false-negative.
func rowGroupMayMatch(rg parquet.RowGroup, filter MessageFilter) bool {
	if filter.Chatroom != "" && !columnMayContainString(rg, "chatroom", filter.Chatroom) {
		return false
	}
	if filter.FromUser != "" && !columnMayContainString(rg, "from_user", filter.FromUser) {
		return false
	}
	if filter.MsgType != nil && !columnMayContainInt64(rg, "msg_type", *filter.MsgType) {
		return false
	}
	return true
}

func columnMayContainString(rg parquet.RowGroup, column, want string) bool {
	var idx = leafColumnIndex(rg, column)
	if idx < 0 {
		return true
	}
	var chunk = rg.ColumnChunks()[idx]
	ci, err := chunk.ColumnIndex()
	if err != nil || ci == nil {
		return true
	}
	for i := 0; i < ci.NumPages(); i++ {
		if ci.NullPage(i) {
			continue
		}
		var min = ci.MinValue(i).String()
		var max = ci.MaxValue(i).String()
		if want >= min && want <= max {
			return true
		}
	}
	return false
}

func columnMayContainInt64(rg parquet.RowGroup, column string, want int64) bool {
	var idx = leafColumnIndex(rg, column)
	if idx < 0 {
		return true
	}
	var chunk = rg.ColumnChunks()[idx]
	ci, err := chunk.ColumnIndex()
	if err != nil || ci == nil {
		return true
	}
	for i := 0; i < ci.NumPages(); i++ {
		if ci.NullPage(i) {
			continue
		}
		if want >= ci.MinValue(i).Int64() && want <= ci.MaxValue(i).Int64() {
			return true
		}
	}
	return false
}

func leafColumnIndex(rg parquet.RowGroup, name string) int {
	for i, field := range rg.Schema().Fields() {
		if field.Name() == name {
			return i
		}
	}
	return -1
}
