package testutil

import (
	"math/rand"
	"strconv"
	"time"

	"github.com/l2-l1-causal-impact/bridge/model/blocks"
)

const GweiInWei = 1_000_000_000

// Block returns a block record with fees given in whole gwei.
func Block(number int64, ts time.Time, baseGwei, tipGwei int64, gasUsed, gasLimit uint64) *blocks.BlockRecord {
	return &blocks.BlockRecord{
		BlockNumber: number,
		Timestamp:   ts.UTC(),
		BaseFee:     strconv.FormatInt(baseGwei*GweiInWei, 10),
		PriorityFee: strconv.FormatInt(tipGwei*GweiInWei, 10),
		GasUsed:     gasUsed,
		GasLimit:    gasLimit,
	}
}

// Price returns a price observation.
func Price(ts time.Time, usd float64) *blocks.PriceObservation {
	return &blocks.PriceObservation{Timestamp: ts.UTC(), PriceUSD: usd}
}

// RandomBlocks returns n blocks per day for the given number of days starting at start, spaced
// evenly through each day. The same seed always yields the same blocks.
func RandomBlocks(seed int64, start time.Time, days, n int) blocks.BlockRecordList {
	rng := rand.New(rand.NewSource(seed))
	out := make(blocks.BlockRecordList, 0, days*n)
	step := 24 * time.Hour / time.Duration(n)
	var number int64
	for d := 0; d < days; d++ {
		day := start.AddDate(0, 0, d)
		for i := 0; i < n; i++ {
			limit := uint64(30_000_000)
			used := uint64(rng.Int63n(int64(limit)))
			base := rng.Int63n(200*GweiInWei) + 1
			tip := rng.Int63n(5 * GweiInWei)
			out = append(out, &blocks.BlockRecord{
				BlockNumber: number,
				Timestamp:   day.Add(time.Duration(i) * step),
				BaseFee:     strconv.FormatInt(base, 10),
				PriorityFee: strconv.FormatInt(tip, 10),
				GasUsed:     used,
				GasLimit:    limit,
			})
			number++
		}
	}
	return out
}

// HourlyPrices returns one observation per hour for the given number of days at a constant price
// per day.
func HourlyPrices(start time.Time, days int, usd func(day int) float64) blocks.PriceObservationList {
	out := make(blocks.PriceObservationList, 0, days*24)
	for d := 0; d < days; d++ {
		day := start.AddDate(0, 0, d)
		for h := 0; h < 24; h++ {
			out = append(out, Price(day.Add(time.Duration(h)*time.Hour), usd(d)))
		}
	}
	return out
}
