package welfare

import (
	"context"
	"time"

	"go.opencensus.io/tag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/l2-l1-causal-impact/bridge/metrics"
	"github.com/l2-l1-causal-impact/bridge/model"
)

// WelfareBridgeRow contrasts the observed and counterfactual fee cost of one day in USD. Fees are
// gwei per gas. Deltas are observed minus counterfactual cost, so a positive delta is a cost the
// counterfactual world would not have paid. Observed values and deltas are nil on days without
// gas or without a price.
type WelfareBridgeRow struct {
	tableName struct{} `pg:"welfare_bridge"` // nolint: structcheck

	Date                      time.Time `pg:"type:date,pk,notnull"`
	ObservedBaseFee           *float64  `pg:"type:double precision"`
	CounterfactualBaseFee     float64   `pg:",use_zero,notnull"`
	CounterfactualBaseFeeP05  float64   `pg:"counterfactual_base_fee_p05,use_zero,notnull"`
	CounterfactualBaseFeeP95  float64   `pg:"counterfactual_base_fee_p95,use_zero,notnull"`
	ObservedPriorityFee       *float64  `pg:"type:double precision"`
	ObservedTotalFee          *float64  `pg:"type:double precision"`
	TotalGasUsed              uint64    `pg:",use_zero,notnull"`
	AssetPriceGasTimeWeighted *float64  `pg:"type:double precision"`
	AssetPriceClose           *float64  `pg:"type:double precision"`
	AssetPriceSimpleMean      *float64  `pg:"type:double precision"`
	DeltaUSDBaseOnly          *float64  `pg:"delta_usd_base_only,type:double precision"`
	DeltaUSDBaseOnlyP05       *float64  `pg:"delta_usd_base_only_p05,type:double precision"`
	DeltaUSDBaseOnlyP95       *float64  `pg:"delta_usd_base_only_p95,type:double precision"`
	DeltaUSDBasePlusTip       *float64  `pg:"delta_usd_base_plus_tip,type:double precision"`
	DeltaUSDBasePlusTipP05    *float64  `pg:"delta_usd_base_plus_tip_p05,type:double precision"`
	DeltaUSDBasePlusTipP95    *float64  `pg:"delta_usd_base_plus_tip_p95,type:double precision"`
	IsCapped                  bool      `pg:",use_zero,notnull"`
	IsExtrapolationDay        bool      `pg:",use_zero,notnull"`
	DatasetHash               string    `pg:",notnull"`
}

// IsZeroGas reports whether the day used no gas.
func (r *WelfareBridgeRow) IsZeroGas() bool {
	return r.TotalGasUsed == 0
}

func (r *WelfareBridgeRow) Persist(ctx context.Context, s model.StorageBatch, version model.Version) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "welfare_bridge"))
	metrics.RecordCount(ctx, metrics.PersistModel, 1)
	return s.PersistModel(ctx, r)
}

type WelfareBridgeRowList []*WelfareBridgeRow

func (l WelfareBridgeRowList) Persist(ctx context.Context, s model.StorageBatch, version model.Version) error {
	if len(l) == 0 {
		return nil
	}
	ctx, span := otel.Tracer("").Start(ctx, "WelfareBridgeRowList.Persist")
	if span.IsRecording() {
		span.SetAttributes(attribute.Int("count", len(l)))
	}
	defer span.End()

	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "welfare_bridge"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, len(l))
	return s.PersistModel(ctx, l)
}

func (l WelfareBridgeRowList) DatasetHashes() []string {
	out := make([]string, len(l))
	for i, r := range l {
		out[i] = r.DatasetHash
	}
	return out
}
