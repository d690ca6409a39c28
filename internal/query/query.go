// Package query implements the columnar query surface: partition-pruned,
// predicate-pushed, column-projected reads over the data lake, exposed as
// a lazy forward-only sequence via an iterator-shaped API.
package query

import (
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sqrtqiezi/diting/internal/canonical"
	"github.com/sqrtqiezi/diting/internal/chatlakeerr"
	"github.com/sqrtqiezi/diting/internal/columnar"
)

// Filters narrows a query_messages call per spec.md §4.5.
type Filters struct {
	Chatroom string
	FromUser string
	MsgType  *int64
}

func (f Filters) pushdown() columnar.MessageFilter {
	return columnar.MessageFilter{Chatroom: f.Chatroom, FromUser: f.FromUser, MsgType: f.MsgType}
}

// Surface reads canonical messages from a partition root.
type Surface struct {
	PartitionRoot string
}

func New(partitionRoot string) *Surface {
	return &Surface{PartitionRoot: partitionRoot}
}

// QueryMessages returns a lazy, forward-only sequence of every canonical
// message in [startDate, endDate] (inclusive, by UTC calendar date)
// matching filters, as (message, error) pairs per go1.23's iterator
// convention. columns, when non-empty, projects the parquet read to just
// those fields (§4.5's column-projection parameter); filters is pushed
// into the read as row-group statistics pruning before rows are
// materialized. Partition pruning means only the overlapping
// year=/month=/day= directories are listed; files are enumerated once per
// partition at open (a snapshot), so a publish racing a later call is
// invisible to this one, matching the read-side atomicity rule.
//
// Iteration stops at the first error; a consumer that wants partial
// results on error should capture rows yielded before it.
func (s *Surface) QueryMessages(startDate, endDate time.Time, filters Filters, columns []string) iter.Seq2[canonical.Message, error] {
	return func(yield func(canonical.Message, error) bool) {
		if endDate.Before(startDate) {
			yield(canonical.Message{}, chatlakeerr.NewQueryError(chatlakeerr.QueryInvalidRange,
				"end date %s precedes start date %s", endDate, startDate))
			return
		}

		for _, dir := range s.overlappingPartitionDirs(startDate, endDate) {
			rows, err := s.readPartition(dir, columns, filters.pushdown())
			if err != nil {
				continue // missing/unreadable partitions are simply absent from results
			}
			for _, row := range rows {
				var msg = fromRow(row)
				if !matches(msg, filters) {
					continue
				}
				if !yield(msg, nil) {
					return
				}
			}
		}
	}
}

// QueryByIDs returns a lazy sequence of canonical messages whose msg_id is
// in ids, scanning every partition under the root (no date range is known
// a priori). columns projects the read as in QueryMessages.
func (s *Surface) QueryByIDs(ids []string, columns []string) iter.Seq2[canonical.Message, error] {
	return func(yield func(canonical.Message, error) bool) {
		if len(ids) == 0 {
			return
		}
		var want = make(map[string]bool, len(ids))
		for _, id := range ids {
			want[id] = true
		}

		dirs, err := s.allPartitionDirs()
		if err != nil {
			yield(canonical.Message{}, err)
			return
		}
		for _, dir := range dirs {
			rows, err := s.readPartition(dir, columns, columnar.MessageFilter{})
			if err != nil {
				continue
			}
			for _, row := range rows {
				if !want[row.MsgID] {
					continue
				}
				if !yield(fromRow(row), nil) {
					return
				}
			}
		}
	}
}

// Collect drains seq into a slice, for callers that need the whole result
// set materialized (e.g. batch construction, which needs the full day's
// messages before it can size token budgets).
func Collect(seq iter.Seq2[canonical.Message, error]) ([]canonical.Message, error) {
	var out []canonical.Message
	for msg, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func fromRow(row columnar.MessageRow) canonical.Message {
	return canonical.Message{
		MsgID:          row.MsgID,
		FromUser:       row.FromUser,
		ToUser:         row.ToUser,
		Chatroom:       row.Chatroom,
		ChatroomSender: row.ChatroomSender,
		MsgType:        row.MsgType,
		CreateTime:     time.Unix(row.CreateTime, 0).UTC(),
		IsChatroomMsg:  row.IsChatroomMsg != 0,
		Content:        row.Content,
		Source:         row.Source,
		GUID:           row.GUID,
		NotifyType:     row.NotifyType,
		IngestionTime:  time.Unix(row.IngestionTime, 0).UTC(),
	}
}

func matches(m canonical.Message, f Filters) bool {
	if f.Chatroom != "" && m.Chatroom != f.Chatroom {
		return false
	}
	if f.FromUser != "" && m.FromUser != f.FromUser {
		return false
	}
	if f.MsgType != nil && m.MsgType != *f.MsgType {
		return false
	}
	return true
}

// readPartition lists dir's columnar files once (the list-time snapshot),
// skipping dotfiles (temporary/staging artifacts) and files that fail to
// read with a truncation error, per the read-side atomicity rules.
// columns and filter are pushed straight into columnar.ReadMessages.
func (s *Surface) readPartition(dir string, columns []string, filter columnar.MessageFilter) ([]columnar.MessageRow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var rows []columnar.MessageRow
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		fileRows, err := columnar.ReadMessages(filepath.Join(dir, entry.Name()), columns, filter)
		if err != nil {
			continue // truncated/unreadable files are skipped, not fatal
		}
		rows = append(rows, fileRows...)
	}
	return rows, nil
}

func (s *Surface) overlappingPartitionDirs(startDate, endDate time.Time) []string {
	var dirs []string
	for d := startDate.UTC(); !d.After(endDate.UTC()); d = d.AddDate(0, 0, 1) {
		year, month, day := columnar.PartitionForTime(d)
		dirs = append(dirs, columnar.PartitionDir(s.PartitionRoot, year, month, day))
	}
	return dirs
}

func (s *Surface) allPartitionDirs() ([]string, error) {
	var dirs []string
	var years, err = os.ReadDir(s.PartitionRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, chatlakeerr.NewIoError(chatlakeerr.IoOther, "listing partition root", err)
	}
	for _, y := range years {
		if !y.IsDir() || !strings.HasPrefix(y.Name(), "year=") {
			continue
		}
		months, err := os.ReadDir(filepath.Join(s.PartitionRoot, y.Name()))
		if err != nil {
			continue
		}
		for _, m := range months {
			if !m.IsDir() || !strings.HasPrefix(m.Name(), "month=") {
				continue
			}
			days, err := os.ReadDir(filepath.Join(s.PartitionRoot, y.Name(), m.Name()))
			if err != nil {
				continue
			}
			for _, d := range days {
				if !d.IsDir() || !strings.HasPrefix(d.Name(), "day=") {
					continue
				}
				dirs = append(dirs, filepath.Join(s.PartitionRoot, y.Name(), m.Name(), d.Name()))
			}
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}
