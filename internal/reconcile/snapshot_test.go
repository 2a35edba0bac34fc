package reconcile

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/parquet-go/parquet-go"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reclaim-io/reclaim/internal/index"
	"github.com/reclaim-io/reclaim/internal/logging"
)

func sampleUnion() Union {
	return Merge(
		[]index.Entry{{Key: "a", Value: val(t1)}, {Key: "c", Value: "x"}},
		[]index.Entry{{Key: "a", Value: val(t2)}, {Key: "b", Value: "INST-1"}, {Key: "c", Value: "y"}},
		logging.Nop(),
	)
}

func readJSONL(t *testing.T, r io.Reader) []SnapshotRow {
	t.Helper()
	var rows []SnapshotRow
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var row SnapshotRow
		require.NoError(t, json.Unmarshal(sc.Bytes(), &row))
		rows = append(rows, row)
	}
	require.NoError(t, sc.Err())
	return rows
}

func decode(t *testing.T, format SnapshotFormat, data []byte) []SnapshotRow {
	t.Helper()
	switch format {
	case FormatJSONL:
		return readJSONL(t, bytes.NewReader(data))
	case FormatJSONLZstd:
		dec, err := zstd.NewReader(bytes.NewReader(data))
		require.NoError(t, err)
		defer dec.Close()
		return readJSONL(t, dec)
	case FormatJSONLLZ4:
		return readJSONL(t, lz4.NewReader(bytes.NewReader(data)))
	case FormatJSONLSnappy:
		return readJSONL(t, snappy.NewReader(bytes.NewReader(data)))
	case FormatParquet:
		reader := parquet.NewGenericReader[SnapshotRow](bytes.NewReader(data))
		defer reader.Close()
		rows := make([]SnapshotRow, reader.NumRows())
		n, err := reader.Read(rows)
		if err != nil && err != io.EOF {
			require.NoError(t, err)
		}
		return rows[:n]
	}
	t.Fatalf("unknown format %q", format)
	return nil
}

func TestWriteSnapshotFormats(t *testing.T) {
	u := sampleUnion()
	want := u.Rows()
	require.Len(t, want, 3)

	for _, format := range SnapshotFormats {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteSnapshot(&buf, format, u))
			assert.Equal(t, want, decode(t, format, buf.Bytes()))
		})
	}
}

func TestSnapshotRowsCarryWinner(t *testing.T) {
	rows := sampleUnion().Rows()
	assert.Equal(t, SnapshotRow{Key: "a", Value: val(t2), Winner: "replica", Reason: ReasonNewer}, rows[0])
	assert.Equal(t, SnapshotRow{Key: "c", Winner: "none", Reason: ReasonBothCorrupt}, rows[1])
	assert.Equal(t, SnapshotRow{Key: "b", Value: "INST-1", Winner: "replica", Reason: ReasonReplicaOnly}, rows[2])
}

func TestWriteSnapshotFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "union.jsonl.zst")
	format := FormatFromPath(path)
	assert.Equal(t, FormatJSONLZstd, format)

	require.NoError(t, WriteSnapshotFile(path, format, sampleUnion()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, decode(t, format, data), 3)
}

func TestSnapshotFormatParsing(t *testing.T) {
	f, err := ParseSnapshotFormat("parquet")
	require.NoError(t, err)
	assert.Equal(t, FormatParquet, f)

	_, err = ParseSnapshotFormat("csv")
	assert.Error(t, err)

	assert.Equal(t, FormatJSONL, FormatFromPath("out.json"))
	assert.Equal(t, FormatParquet, FormatFromPath("/tmp/x.parquet"))
	assert.Equal(t, FormatJSONLSnappy, FormatFromPath("x.jsonl.snappy"))

	var buf bytes.Buffer
	assert.Error(t, WriteSnapshot(&buf, SnapshotFormat("csv"), sampleUnion()))
}
