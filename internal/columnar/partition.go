package columnar

import (
	"fmt"
	"path/filepath"
	"time"
)

// PartitionDir returns the directory path for a (year, month, day), using
// the literal key=value directory naming fixed in the external interfaces
// section, with month and day zero-padded.
func PartitionDir(root string, year, month, day int) string {
	return filepath.Join(root,
		fmt.Sprintf("year=%04d", year),
		fmt.Sprintf("month=%02d", month),
		fmt.Sprintf("day=%02d", day),
	)
}

// PartitionForTime returns the (year, month, day) a UTC instant belongs to,
// under the local-date projection invariant: a message at exactly midnight
// UTC belongs to that calendar day, not the previous one.
func PartitionForTime(t time.Time) (year, month, day int) {
	var u = t.UTC()
	return u.Year(), int(u.Month()), u.Day()
}

// StagingDir returns the per-batch temporary staging directory files are
// written into before being renamed into their final partition directory.
func StagingDir(root, batchID string) string {
	return filepath.Join(root, ".tmp", batchID)
}
