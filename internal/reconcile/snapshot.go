package reconcile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/parquet-go/parquet-go"
	"github.com/pierrec/lz4/v4"
)

// SnapshotFormat selects the encoding of a recovery snapshot.
type SnapshotFormat string

const (
	FormatJSONL       SnapshotFormat = "jsonl"
	FormatJSONLZstd   SnapshotFormat = "jsonl.zst"
	FormatJSONLLZ4    SnapshotFormat = "jsonl.lz4"
	FormatJSONLSnappy SnapshotFormat = "jsonl.snappy"
	FormatParquet     SnapshotFormat = "parquet"
)

// SnapshotFormats lists every supported format.
var SnapshotFormats = []SnapshotFormat{FormatJSONL, FormatJSONLZstd, FormatJSONLLZ4, FormatJSONLSnappy, FormatParquet}

// ParseSnapshotFormat validates s.
func ParseSnapshotFormat(s string) (SnapshotFormat, error) {
	for _, f := range SnapshotFormats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("reconcile: unknown snapshot format %q", s)
}

// FormatFromPath guesses the format from a file name, defaulting to jsonl.
func FormatFromPath(path string) SnapshotFormat {
	for _, f := range []SnapshotFormat{FormatJSONLZstd, FormatJSONLLZ4, FormatJSONLSnappy, FormatParquet} {
		if strings.HasSuffix(path, "."+string(f)) {
			return f
		}
	}
	return FormatJSONL
}

// SnapshotRow is one line (or parquet row) of a snapshot.
type SnapshotRow struct {
	Key    string `json:"key" parquet:"key"`
	Value  string `json:"value" parquet:"value"`
	Winner string `json:"winner" parquet:"winner"`
	Reason string `json:"reason" parquet:"reason"`
}

// Rows flattens u into snapshot rows, dropped keys included.
func (u Union) Rows() []SnapshotRow {
	rows := make([]SnapshotRow, 0, len(u.Decisions))
	for _, d := range u.Decisions {
		rows = append(rows, SnapshotRow{Key: d.Key, Value: d.Value, Winner: d.Winner.String(), Reason: d.Reason})
	}
	return rows
}

// WriteSnapshot encodes u to w.
func WriteSnapshot(w io.Writer, format SnapshotFormat, u Union) error {
	rows := u.Rows()
	switch format {
	case FormatJSONL:
		return writeJSONL(w, rows)
	case FormatJSONLZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("reconcile: zstd writer: %w", err)
		}
		return writeCompressed(enc, rows)
	case FormatJSONLLZ4:
		return writeCompressed(lz4.NewWriter(w), rows)
	case FormatJSONLSnappy:
		return writeCompressed(snappy.NewBufferedWriter(w), rows)
	case FormatParquet:
		pw := parquet.NewGenericWriter[SnapshotRow](w)
		if len(rows) > 0 {
			if _, err := pw.Write(rows); err != nil {
				return fmt.Errorf("reconcile: parquet write: %w", err)
			}
		}
		if err := pw.Close(); err != nil {
			return fmt.Errorf("reconcile: parquet close: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("reconcile: unknown snapshot format %q", format)
	}
}

// WriteSnapshotFile writes u to path, creating or truncating it.
func WriteSnapshotFile(path string, format SnapshotFormat, u Union) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reconcile: create snapshot: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("reconcile: close snapshot: %w", cerr)
		}
	}()
	return WriteSnapshot(f, format, u)
}

func writeJSONL(w io.Writer, rows []SnapshotRow) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("reconcile: encode row %q: %w", r.Key, err)
		}
	}
	return bw.Flush()
}

func writeCompressed(wc io.WriteCloser, rows []SnapshotRow) error {
	if err := writeJSONL(wc, rows); err != nil {
		_ = wc.Close()
		return err
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("reconcile: finish compressed snapshot: %w", err)
	}
	return nil
}
