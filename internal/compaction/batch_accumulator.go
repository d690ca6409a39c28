package compaction

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/sqrtqiezi/diting/internal/canonical"
	"github.com/sqrtqiezi/diting/internal/chatlakeerr"
	"github.com/sqrtqiezi/diting/internal/columnar"
)

// batchAccumulator buffers canonical records per target partition and
// publishes them once a partition's buffer reaches the configured batch
// size, or on final Flush. Within a run batch formation is independent
// across partitions (distinct target directories), matching the
// concurrency note that batch formation may parallelize per partition;
// this implementation accumulates sequentially, which is sufficient for a
// single source file's worth of work and keeps ordering simple to reason
// about.
type batchAccumulator struct {
	partitionRoot string
	batchSize     int
	compression   string

	messagesByPartition map[string][]columnar.MessageRow
	contactsByPartition  map[string][]columnar.ContactRow
	written              []string
	err                  error
}

func newBatchAccumulator(partitionRoot string, batchSize int, compression string) *batchAccumulator {
	if batchSize <= 0 {
		batchSize = 10000
	}
	return &batchAccumulator{
		partitionRoot:        partitionRoot,
		batchSize:            batchSize,
		compression:          compression,
		messagesByPartition:  make(map[string][]columnar.MessageRow),
		contactsByPartition:  make(map[string][]columnar.ContactRow),
	}
}

func toMessageRow(m canonical.Message) columnar.MessageRow {
	var isChatroom int64
	if m.IsChatroomMsg {
		isChatroom = 1
	}
	return columnar.MessageRow{
		MsgID:          m.MsgID,
		FromUser:       m.FromUser,
		ToUser:         m.ToUser,
		Chatroom:       m.Chatroom,
		ChatroomSender: m.ChatroomSender,
		MsgType:        m.MsgType,
		CreateTime:     m.CreateTime.Unix(),
		IsChatroomMsg:  isChatroom,
		Content:        m.Content,
		Source:         m.Source,
		GUID:           m.GUID,
		NotifyType:     m.NotifyType,
		IngestionTime:  m.IngestionTime.Unix(),
	}
}

func toContactRow(c canonical.Contact) columnar.ContactRow {
	return columnar.ContactRow{
		Username:      c.Username,
		Nickname:      c.Nickname,
		Remark:        c.Remark,
		IngestionTime: c.IngestionTime.Unix(),
	}
}

// AddMessage buffers m under its create_time's partition, flushing that
// partition immediately if the buffer just reached batchSize.
func (b *batchAccumulator) AddMessage(m canonical.Message) {
	var dir = b.partitionFor(m.CreateTime.Year(), int(m.CreateTime.Month()), m.CreateTime.Day())
	b.messagesByPartition[dir] = append(b.messagesByPartition[dir], toMessageRow(m))
	if len(b.messagesByPartition[dir]) >= b.batchSize {
		if err := b.flushMessagePartition(dir); err != nil && b.err == nil {
			b.err = err
		}
	}
}

// AddContact buffers c. Contact-sync records aren't date-partitioned by a
// message timestamp; they land in the ingestion day's partition, since
// that's the only temporal signal available at compaction time.
func (b *batchAccumulator) AddContact(c canonical.Contact) {
	var dir = b.partitionFor(c.IngestionTime.Year(), int(c.IngestionTime.Month()), c.IngestionTime.Day())
	b.contactsByPartition[dir] = append(b.contactsByPartition[dir], toContactRow(c))
	if len(b.contactsByPartition[dir]) >= b.batchSize {
		if err := b.flushContactPartition(dir); err != nil && b.err == nil {
			b.err = err
		}
	}
}

func (b *batchAccumulator) partitionFor(year, month, day int) string {
	return columnar.PartitionDir(b.partitionRoot, year, month, day)
}

func (b *batchAccumulator) flushMessagePartition(dir string) error {
	var rows = b.messagesByPartition[dir]
	if len(rows) == 0 {
		return nil
	}
	delete(b.messagesByPartition, dir)

	path, err := b.publishBatch(dir, func(stagedPath string) error {
		return columnar.WriteMessages(stagedPath, rows, b.compression)
	})
	if err != nil {
		return err
	}
	b.written = append(b.written, path)
	return nil
}

func (b *batchAccumulator) flushContactPartition(dir string) error {
	var rows = b.contactsByPartition[dir]
	if len(rows) == 0 {
		return nil
	}
	delete(b.contactsByPartition, dir)

	path, err := b.publishBatch(dir, func(stagedPath string) error {
		return columnar.WriteContacts(stagedPath, rows, b.compression)
	})
	if err != nil {
		return err
	}
	b.written = append(b.written, path)
	return nil
}

// publishBatch writes the batch content into a staging subdirectory under
// partitionRoot/.tmp/ via columnar.Write*'s own atomic-publish primitive
// (write-temp, fsync, rename), then renames the finished file into the
// partition directory, so a crash mid-write leaves no partial file visible
// under the published partition directory, per the crash-recovery scenario.
func (b *batchAccumulator) publishBatch(partitionDir string, write func(stagedPath string) error) (string, error) {
	var batchID = uuid.NewString()
	var stagingDir = columnar.StagingDir(b.partitionRoot, batchID)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return "", chatlakeerr.NewIoError(chatlakeerr.IoOther, "creating staging directory", err)
	}
	defer os.RemoveAll(stagingDir)

	var stagedPath = filepath.Join(stagingDir, batchID+columnar.Extension)
	if err := write(stagedPath); err != nil {
		return "", err
	}
	if err := os.MkdirAll(partitionDir, 0o755); err != nil {
		return "", chatlakeerr.NewIoError(chatlakeerr.IoOther, "creating partition directory", err)
	}
	var finalPath = filepath.Join(partitionDir, fmt.Sprintf("%s%s", batchID, columnar.Extension))
	if err := os.Rename(stagedPath, finalPath); err != nil {
		return "", chatlakeerr.NewIoError(chatlakeerr.IoOther, "publishing batch into partition", err)
	}
	return finalPath, nil
}

// Flush publishes every partition still buffered (input exhausted), and
// returns every partition file path written during this run. If an earlier
// threshold flush failed, Flush returns that error without writing more.
func (b *batchAccumulator) Flush() ([]string, error) {
	if b.err != nil {
		return b.written, b.err
	}
	for dir := range b.messagesByPartition {
		if err := b.flushMessagePartition(dir); err != nil {
			return b.written, err
		}
	}
	for dir := range b.contactsByPartition {
		if err := b.flushContactPartition(dir); err != nil {
			return b.written, err
		}
	}
	return b.written, nil
}
