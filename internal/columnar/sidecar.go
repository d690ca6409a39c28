package columnar

import (
	"encoding/json"
	"fmt"

	"github.com/DataDog/zstd"
	"github.com/golang/snappy"

	"github.com/sqrtqiezi/diting/internal/chatlakeerr"
)

// PartitionStats is a small per-partition stats record: row counts, byte
// size, and min/max timestamps. EncodeStats compresses it with a columnar
// codec name. The metadata store's partition_stats table keeps these
// figures as plain columns rather than as an encoded blob, and the query
// surface does not read either form.
type PartitionStats struct {
	Year          int    `json:"year"`
	Month         int    `json:"month"`
	Day           int    `json:"day"`
	RowCount      int64  `json:"row_count"`
	ByteSize      int64  `json:"byte_size"`
	MinCreateTime int64  `json:"min_create_time"`
	MaxCreateTime int64  `json:"max_create_time"`
	Codec         string `json:"codec"`
}

// EncodeStats marshals stats to JSON and compresses it with codecName.
func EncodeStats(stats PartitionStats, codecName string) ([]byte, error) {
	raw, err := json.Marshal(stats)
	if err != nil {
		return nil, chatlakeerr.NewParseError("encoding partition stats", err)
	}
	switch codecName {
	case "", "snappy":
		return snappy.Encode(nil, raw), nil
	case "zstd":
		compressed, err := zstd.Compress(nil, raw)
		if err != nil {
			return nil, chatlakeerr.NewIoError(chatlakeerr.IoOther, "zstd-compressing partition stats", err)
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("unknown columnar compression codec %q", codecName)
	}
}

// DecodeStats reverses EncodeStats. codecName must name the codec the blob
// was encoded with ("" or "snappy", or "zstd"); there is no detection or
// fallback between codecs, and an unknown codec name is an error.
func DecodeStats(blob []byte, codecName string) (PartitionStats, error) {
	var raw []byte
	var err error
	switch codecName {
	case "", "snappy":
		raw, err = snappy.Decode(nil, blob)
		if err != nil {
			return PartitionStats{}, chatlakeerr.NewParseError("snappy-decoding partition stats", err)
		}
	case "zstd":
		raw, err = zstd.Decompress(nil, blob)
		if err != nil {
			return PartitionStats{}, chatlakeerr.NewParseError("zstd-decoding partition stats", err)
		}
	default:
		return PartitionStats{}, fmt.Errorf("unknown columnar compression codec %q", codecName)
	}

	var stats PartitionStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return PartitionStats{}, chatlakeerr.NewParseError("decoding partition stats json", err)
	}
	return stats, nil
}
