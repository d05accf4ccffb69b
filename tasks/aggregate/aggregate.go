package aggregate

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/lens"
	"github.com/l2-l1-causal-impact/bridge/metrics"
	"github.com/l2-l1-causal-impact/bridge/model"
	"github.com/l2-l1-causal-impact/bridge/model/blocks"
	"github.com/l2-l1-causal-impact/bridge/model/daily"
	"github.com/l2-l1-causal-impact/bridge/provenance"
	"github.com/l2-l1-causal-impact/bridge/units"
)

var log = logging.Logger("bridge/aggregate")

const (
	TaskName = "aggregate"

	DefaultWorkers = 8
)

// Task reduces block records to one gas-weighted aggregate per UTC day.
type Task struct {
	workers    int
	feeUnit    units.Unit
	reportUnit units.Unit
	progress   func()
}

type Option func(*Task)

// WithWorkers sets the number of days aggregated concurrently.
func WithWorkers(n int) Option {
	return func(t *Task) {
		if n > 0 {
			t.workers = n
		}
	}
}

// WithUnits sets the denomination of input fees and of the aggregated fee columns.
func WithUnits(fee, report units.Unit) Option {
	return func(t *Task) {
		t.feeUnit = fee
		t.reportUnit = report
	}
}

// WithProgress sets a function called once per aggregated day.
func WithProgress(fn func()) Option {
	return func(t *Task) {
		t.progress = fn
	}
}

func NewTask(opts ...Option) *Task {
	t := &Task{
		workers:    DefaultWorkers,
		feeUnit:    units.Wei,
		reportUnit: units.Gwei,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Validate checks every block for gas used above its gas limit and for malformed fees, returning
// all violations as one InputValidationError.
func Validate(input string, bl blocks.BlockRecordList) error {
	v := lens.NewValidation(input)
	for i, b := range bl {
		row := i + 1
		if b.GasUsed > b.GasLimit {
			v.Add(row, "gas_used", "block %d uses %d gas above its gas limit %d", b.BlockNumber, b.GasUsed, b.GasLimit)
		}
		base, tip, err := b.Fees()
		if err != nil {
			v.Add(row, "", "%v", err)
			continue
		}
		if base.Sign() < 0 {
			v.Add(row, "base_fee", "block %d has negative base fee", b.BlockNumber)
		}
		if tip.Sign() < 0 {
			v.Add(row, "priority_fee", "block %d has negative priority fee", b.BlockNumber)
		}
	}
	return v.Err()
}

// Aggregate computes the daily aggregates of bl, stamping each with the content hash of rec.
// Prices may be empty, leaving the price columns null. The result is ordered by date and covers
// only days with at least one block.
func (t *Task) Aggregate(ctx context.Context, bl blocks.BlockRecordList, prices blocks.PriceObservationList, rec *provenance.FreezeRecord) (daily.DailyAggregateList, error) {
	ctx, span := otel.Tracer("").Start(ctx, "Aggregate")
	if span.IsRecording() {
		span.SetAttributes(
			attribute.Int("blocks", len(bl)),
			attribute.Int("prices", len(prices)),
			attribute.Int("workers", t.workers),
		)
	}
	defer span.End()

	ctx = metrics.WithTagValue(ctx, metrics.TaskType, TaskName)
	stop := metrics.Timer(ctx, metrics.ProcessingDuration)
	defer stop()

	if rec == nil {
		return nil, xerrors.Errorf("aggregate: no authorized freeze record")
	}
	if err := Validate("blocks", bl); err != nil {
		return nil, err
	}

	byDate := bl.ByDate()
	pricesByDate := prices.ByDate()
	dates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	out := make(daily.DailyAggregateList, len(dates))
	var (
		errMu sync.Mutex
		errs  error
	)

	pool := workerpool.New(t.workers)
	for i, d := range dates {
		i, d := i, d
		pool.Submit(func() {
			if ctx.Err() != nil {
				return
			}
			agg, err := t.day(d, byDate[d], pricesByDate[d])
			if err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, xerrors.Errorf("aggregate %s: %w", d.Format("2006-01-02"), err))
				errMu.Unlock()
				return
			}
			agg.DatasetHash = rec.ContentHash
			out[i] = agg
			if t.progress != nil {
				t.progress()
			}
		})
	}
	pool.StopWait()

	if err := ctx.Err(); err != nil {
		return nil, xerrors.Errorf("aggregate: %w", err)
	}
	if errs != nil {
		return nil, errs
	}

	zeroGas := 0
	for _, a := range out {
		if a.IsZeroGas {
			zeroGas++
		}
	}
	metrics.RecordCount(ctx, metrics.DaysAggregated, len(out))
	metrics.RecordCount(ctx, metrics.ZeroGasDays, zeroGas)
	log.Infow("aggregated blocks", "blocks", len(bl), "days", len(out), "zero_gas_days", zeroGas)
	return out, nil
}

func (t *Task) day(date time.Time, bl blocks.BlockRecordList, prices blocks.PriceObservationList) (*daily.DailyAggregate, error) {
	agg := &daily.DailyAggregate{
		Date:       date,
		BlockCount: int64(len(bl)),
	}

	var (
		baseSum = new(big.Rat)
		tipSum  = new(big.Rat)
		gasSum  = new(big.Int)
		gas     = new(big.Rat)
		term    = new(big.Rat)
	)
	for _, b := range bl {
		base, tip, err := b.Fees()
		if err != nil {
			return nil, err
		}
		agg.TotalGasUsed += b.GasUsed
		gasSum.Add(gasSum, new(big.Int).SetUint64(b.GasUsed))
		gas.SetInt(new(big.Int).SetUint64(b.GasUsed))
		baseSum.Add(baseSum, term.Mul(base, gas))
		tipSum.Add(tipSum, term.Mul(tip, gas))
	}

	if gasSum.Sign() == 0 {
		agg.IsZeroGas = true
	} else {
		total := new(big.Rat).SetInt(gasSum)
		base, err := t.weighted(baseSum, total)
		if err != nil {
			return nil, err
		}
		tip, err := t.weighted(tipSum, total)
		if err != nil {
			return nil, err
		}
		agg.GasWeightedBaseFee = model.Float64(base)
		agg.GasWeightedPriorityFee = model.Float64(tip)
	}

	if len(prices) > 0 {
		pw := priceWeights(bl, prices)
		agg.AssetPriceGasTimeWeighted = pw.gasTimeWeighted
		agg.AssetPriceClose = model.Float64(prices[len(prices)-1].PriceUSD)
		agg.AssetPriceSimpleMean = model.Float64(pw.mean)
	}
	return agg, nil
}

// weighted divides sum by gas and converts the quotient to the report unit.
func (t *Task) weighted(sum, gas *big.Rat) (float64, error) {
	f, _ := new(big.Rat).Quo(sum, gas).Float64()
	return units.Convert(f, t.feeUnit, t.reportUnit)
}

type priceWeight struct {
	gasTimeWeighted *float64
	mean            float64
}

// priceWeights attributes the gas of each block to the price observation in force at its
// timestamp and returns the gas weighted mean price of the day together with the simple mean of
// its observations. Prices must be sorted by timestamp.
func priceWeights(bl blocks.BlockRecordList, prices blocks.PriceObservationList) priceWeight {
	var sum float64
	for _, p := range prices {
		sum += p.PriceUSD
	}
	out := priceWeight{mean: sum / float64(len(prices))}

	gasPerObs := make([]uint64, len(prices))
	var total uint64
	for _, b := range bl {
		// index of the last observation at or before the block, blocks before the first
		// observation of the day belong to it
		i := sort.Search(len(prices), func(i int) bool { return prices[i].Timestamp.After(b.Timestamp) }) - 1
		if i < 0 {
			i = 0
		}
		gasPerObs[i] += b.GasUsed
		total += b.GasUsed
	}
	if total == 0 {
		return out
	}

	var weighted float64
	for i, p := range prices {
		weighted += p.PriceUSD * float64(gasPerObs[i])
	}
	out.gasTimeWeighted = model.Float64(weighted / float64(total))
	return out
}
