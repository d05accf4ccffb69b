package file

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/lens"
	"github.com/l2-l1-causal-impact/bridge/model/blocks"
	"github.com/l2-l1-causal-impact/bridge/provenance"
	"github.com/l2-l1-causal-impact/bridge/storage"
)

// parquetBlock is the on-disk layout of a parquet block input. Fees are wei per gas.
type parquetBlock struct {
	BlockNumber *int64    `parquet:"block_number,optional"`
	Timestamp   time.Time `parquet:"timestamp,timestamp"`
	BaseFee     float64   `parquet:"base_fee"`
	PriorityFee float64   `parquet:"priority_fee"`
	GasUsed     int64     `parquet:"gas_used"`
	GasLimit    int64     `parquet:"gas_limit"`
}

func readParquetBlocks(path string) (blocks.BlockRecordList, *provenance.Table, error) {
	rows, err := parquet.ReadFile[parquetBlock](path)
	if err != nil {
		return nil, nil, xerrors.Errorf("read parquet %s: %w", path, err)
	}

	v := lens.NewValidation(filepath.Base(path))
	out := make(blocks.BlockRecordList, 0, len(rows))
	for i, r := range rows {
		row := i + 1
		number := int64(i)
		if r.BlockNumber != nil {
			number = *r.BlockNumber
		}
		if r.BaseFee < 0 {
			v.Add(row, "base_fee", "negative value: %v", r.BaseFee)
		}
		if r.PriorityFee < 0 {
			v.Add(row, "priority_fee", "negative value: %v", r.PriorityFee)
		}
		if r.GasUsed < 0 {
			v.Add(row, "gas_used", "negative value: %d", r.GasUsed)
		}
		if r.GasLimit < 0 {
			v.Add(row, "gas_limit", "negative value: %d", r.GasLimit)
		}
		out = append(out, &blocks.BlockRecord{
			BlockNumber: number,
			Timestamp:   r.Timestamp.UTC(),
			BaseFee:     strconv.FormatFloat(r.BaseFee, 'f', -1, 64),
			PriorityFee: strconv.FormatFloat(r.PriorityFee, 'f', -1, 64),
			GasUsed:     uint64(r.GasUsed),
			GasLimit:    uint64(r.GasLimit),
		})
	}
	if err := v.Err(); err != nil {
		return nil, nil, err
	}

	raw, err := recordTable(out)
	if err != nil {
		return nil, nil, err
	}
	return out, raw, nil
}

// recordTable formats block records the way they are written to csv.
func recordTable(l blocks.BlockRecordList) (*provenance.Table, error) {
	t := storage.ModelTable(&blocks.BlockRecord{}, storage.LatestSchemaVersion())
	raw := &provenance.Table{Name: t.Name, Columns: append([]string(nil), t.Columns...)}
	for _, b := range l {
		row, err := storage.MarshalRow(t, reflect.ValueOf(b).Elem())
		if err != nil {
			return nil, err
		}
		raw.Rows = append(raw.Rows, row)
	}
	return raw, nil
}

func parquetColumns(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("open %s: %w", path, err)
	}
	defer f.Close() // nolint: errcheck

	st, err := f.Stat()
	if err != nil {
		return nil, xerrors.Errorf("stat %s: %w", path, err)
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, xerrors.Errorf("open parquet %s: %w", path, err)
	}
	var cols []string
	for _, fld := range pf.Schema().Fields() {
		cols = append(cols, fld.Name())
	}
	return cols, nil
}

// WriteParquetBlocks writes block records in the parquet input layout.
func WriteParquetBlocks(path string, l blocks.BlockRecordList) error {
	rows := make([]parquetBlock, 0, len(l))
	for _, b := range l {
		base, err := strconv.ParseFloat(b.BaseFee, 64)
		if err != nil {
			return xerrors.Errorf("block %d base fee: %w", b.BlockNumber, err)
		}
		tip, err := strconv.ParseFloat(b.PriorityFee, 64)
		if err != nil {
			return xerrors.Errorf("block %d priority fee: %w", b.BlockNumber, err)
		}
		n := b.BlockNumber
		rows = append(rows, parquetBlock{
			BlockNumber: &n,
			Timestamp:   b.Timestamp,
			BaseFee:     base,
			PriorityFee: tip,
			GasUsed:     int64(b.GasUsed),
			GasLimit:    int64(b.GasLimit),
		})
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return xerrors.Errorf("write parquet %s: %w", path, err)
	}
	return nil
}
