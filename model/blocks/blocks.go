package blocks

import (
	"context"
	"math/big"
	"time"

	"go.opencensus.io/tag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/metrics"
	"github.com/l2-l1-causal-impact/bridge/model"
)

// BlockRecord is a single block as read from the input dataset. Fees are denominated in wei per
// gas and kept as decimal strings so no precision is lost before aggregation.
type BlockRecord struct {
	tableName struct{} `pg:"block_records"` // nolint: structcheck

	// BlockNumber identifies the block. When the input has no block_number column the row number
	// is used.
	BlockNumber int64     `pg:",pk,use_zero,notnull"`
	Timestamp   time.Time `pg:",notnull"`
	BaseFee     string    `pg:"type:numeric,notnull"`
	PriorityFee string    `pg:"type:numeric,notnull"`
	GasUsed     uint64    `pg:",use_zero,notnull"`
	GasLimit    uint64    `pg:",use_zero,notnull"`
}

// Date returns the UTC calendar day the block belongs to. A block stamped exactly at midnight
// belongs to the day that starts at that instant.
func (b *BlockRecord) Date() time.Time {
	return DayOf(b.Timestamp)
}

// Fees parses the base and priority fee of the block.
func (b *BlockRecord) Fees() (base *big.Rat, tip *big.Rat, err error) {
	base, ok := new(big.Rat).SetString(b.BaseFee)
	if !ok {
		return nil, nil, xerrors.Errorf("block %d: invalid base_fee %q", b.BlockNumber, b.BaseFee)
	}
	tip, ok = new(big.Rat).SetString(b.PriorityFee)
	if !ok {
		return nil, nil, xerrors.Errorf("block %d: invalid priority_fee %q", b.BlockNumber, b.PriorityFee)
	}
	return base, tip, nil
}

func (b *BlockRecord) Persist(ctx context.Context, s model.StorageBatch, version model.Version) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "block_records"))
	metrics.RecordCount(ctx, metrics.PersistModel, 1)
	return s.PersistModel(ctx, b)
}

type BlockRecordList []*BlockRecord

func (l BlockRecordList) Persist(ctx context.Context, s model.StorageBatch, version model.Version) error {
	if len(l) == 0 {
		return nil
	}
	ctx, span := otel.Tracer("").Start(ctx, "BlockRecordList.Persist")
	if span.IsRecording() {
		span.SetAttributes(attribute.Int("count", len(l)))
	}
	defer span.End()

	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "block_records"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, len(l))
	return s.PersistModel(ctx, l)
}

// ByDate groups the blocks by UTC calendar day, keeping input order within each day.
func (l BlockRecordList) ByDate() map[time.Time]BlockRecordList {
	out := make(map[time.Time]BlockRecordList)
	for _, b := range l {
		d := b.Date()
		out[d] = append(out[d], b)
	}
	return out
}

// DayOf truncates t to the start of its UTC calendar day.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
