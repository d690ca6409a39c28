package columnar

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/sqrtqiezi/diting/internal/atomicfile"
	"github.com/sqrtqiezi/diting/internal/chatlakeerr"
)

// Extension is the fixed file extension of §6's external interfaces.
const Extension = ".col"

// codecFor maps the configuration's codec name to a parquet-go compression
// preset. snappy is the default, zstd the archive codec, exactly as listed
// in the configuration table.
func codecFor(name string) (parquet.Compression, error) {
	switch name {
	case "", "snappy":
		return &parquet.Snappy, nil
	case "zstd":
		return &parquet.Zstd, nil
	default:
		return nil, fmt.Errorf("unknown columnar compression codec %q", name)
	}
}

// WriteMessages atomically publishes rows as one parquet file at path,
// using the write-temp-then-rename primitive so a reader scanning the
// partition at list-time either sees the whole file or none of it.
func WriteMessages(path string, rows []MessageRow, codecName string) error {
	compression, err := codecFor(codecName)
	if err != nil {
		return chatlakeerr.NewParseError("selecting columnar codec", err)
	}

	tmp, err := os.CreateTemp(os.TempDir(), "col-msg-*.parquet")
	if err != nil {
		return chatlakeerr.NewIoError(chatlakeerr.IoOther, "creating staging file", err)
	}
	var tmpPath = tmp.Name()
	defer os.Remove(tmpPath)

	var writer = parquet.NewGenericWriter[MessageRow](tmp, parquet.Compression(compression))
	if _, err := writer.Write(rows); err != nil {
		_ = tmp.Close()
		return chatlakeerr.NewIoError(chatlakeerr.IoOther, "writing columnar rows", err)
	}
	if err := writer.Close(); err != nil {
		_ = tmp.Close()
		return chatlakeerr.NewIoError(chatlakeerr.IoOther, "closing columnar writer", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return chatlakeerr.NewIoError(chatlakeerr.IoOther, "fsync staging file", err)
	}
	if err := tmp.Close(); err != nil {
		return chatlakeerr.NewIoError(chatlakeerr.IoOther, "closing staging file", err)
	}

	payload, err := os.ReadFile(tmpPath)
	if err != nil {
		return chatlakeerr.NewIoError(chatlakeerr.IoOther, "reading staged columnar file", err)
	}
	return atomicfile.Publish(path, payload, 0o644)
}

// WriteContacts is WriteMessages' contact-sync counterpart.
func WriteContacts(path string, rows []ContactRow, codecName string) error {
	compression, err := codecFor(codecName)
	if err != nil {
		return chatlakeerr.NewParseError("selecting columnar codec", err)
	}

	tmp, err := os.CreateTemp(os.TempDir(), "col-contact-*.parquet")
	if err != nil {
		return chatlakeerr.NewIoError(chatlakeerr.IoOther, "creating staging file", err)
	}
	var tmpPath = tmp.Name()
	defer os.Remove(tmpPath)

	var writer = parquet.NewGenericWriter[ContactRow](tmp, parquet.Compression(compression))
	if _, err := writer.Write(rows); err != nil {
		_ = tmp.Close()
		return chatlakeerr.NewIoError(chatlakeerr.IoOther, "writing columnar rows", err)
	}
	if err := writer.Close(); err != nil {
		_ = tmp.Close()
		return chatlakeerr.NewIoError(chatlakeerr.IoOther, "closing columnar writer", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return chatlakeerr.NewIoError(chatlakeerr.IoOther, "fsync staging file", err)
	}
	if err := tmp.Close(); err != nil {
		return chatlakeerr.NewIoError(chatlakeerr.IoOther, "closing staging file", err)
	}

	payload, err := os.ReadFile(tmpPath)
	if err != nil {
		return chatlakeerr.NewIoError(chatlakeerr.IoOther, "reading staged columnar file", err)
	}
	return atomicfile.Publish(path, payload, 0o644)
}
