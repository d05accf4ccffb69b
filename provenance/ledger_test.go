package provenance

import (
	"context"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/model/daily"
)

var knownTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func mockClock() clock.Clock {
	c := clock.NewMock()
	c.Set(knownTime)
	return c
}

func TestLedgerFreezeOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	l, err := OpenLedger(dir, WithClock(mockClock()))
	require.NoError(t, err)
	assert.Equal(t, StateUnfrozen, l.State())

	_, err = l.Authorize()
	assert.True(t, xerrors.Is(err, ErrNotAuthorized))

	rec, err := l.Freeze(ctx, sampleTable(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, StateFrozen, l.State())
	assert.Equal(t, SHA256, rec.HashAlgorithm)
	assert.Equal(t, 3, rec.RowCount)
	assert.Equal(t, 3, rec.ColumnCount)
	assert.Equal(t, []string{"base_fee", "gas_used", "timestamp"}, rec.Columns)
	assert.Equal(t, "abc123", rec.CommitReference)
	assert.Equal(t, knownTime, rec.CreatedAt)

	// the run that froze may proceed
	auth, err := l.Authorize()
	require.NoError(t, err)
	assert.Equal(t, rec.ContentHash, auth.ContentHash)

	_, err = l.Freeze(ctx, sampleTable(), "abc123")
	assert.True(t, xerrors.Is(err, ErrAlreadyFrozen))

	// a second ledger over the same directory sees the record and may not freeze again
	l2, err := OpenLedger(dir)
	require.NoError(t, err)
	assert.Equal(t, StateFrozen, l2.State())
	assert.Equal(t, rec, l2.Record())
	_, err = l2.Freeze(ctx, sampleTable(), "other")
	assert.True(t, xerrors.Is(err, ErrAlreadyFrozen))

	// but must validate before it is authorized
	_, err = l2.Authorize()
	assert.True(t, xerrors.Is(err, ErrNotAuthorized))
	require.NoError(t, l2.Validate(ctx, sampleTable()))
	assert.Equal(t, StateValidated, l2.State())
	_, err = l2.Authorize()
	require.NoError(t, err)
}

func TestLedgerValidateMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	l, err := OpenLedger(dir, WithAlgorithm(Blake2b256))
	require.NoError(t, err)
	rec, err := l.Freeze(ctx, sampleTable(), "")
	require.NoError(t, err)

	l2, err := OpenLedger(dir)
	require.NoError(t, err)

	tampered := sampleTable()
	tampered.Rows[0][1] = "30000000001"
	err = l2.Validate(ctx, tampered)
	require.Error(t, err)

	var mismatch *HashMismatchError
	require.True(t, xerrors.As(err, &mismatch))
	assert.Equal(t, rec.ContentHash, mismatch.Expected)
	assert.NotEqual(t, rec.ContentHash, mismatch.Actual)
	assert.Equal(t, StateMismatched, l2.State())

	_, err = l2.Authorize()
	assert.True(t, xerrors.Is(err, ErrNotAuthorized))

	// the record is left untouched
	l3, err := OpenLedger(dir)
	require.NoError(t, err)
	assert.Equal(t, rec.ContentHash, l3.Record().ContentHash)
}

func TestLedgerValidateUnfrozen(t *testing.T) {
	l, err := OpenLedger(t.TempDir())
	require.NoError(t, err)
	err = l.Validate(context.Background(), sampleTable())
	assert.True(t, xerrors.Is(err, ErrNotFrozen))
}

func TestVerifyStamps(t *testing.T) {
	rec := &FreezeRecord{ContentHash: "aaa"}

	good := daily.DailyAggregateList{{DatasetHash: "aaa"}, {DatasetHash: "aaa"}}
	require.NoError(t, VerifyStamps(rec, "daily_aggregates", good))

	bad := daily.DailyAggregateList{{DatasetHash: "aaa"}, {DatasetHash: "bbb"}}
	err := VerifyStamps(rec, "daily_aggregates", bad)
	var mismatch *HashMismatchError
	require.True(t, xerrors.As(err, &mismatch))
	assert.Equal(t, "bbb", mismatch.Actual)
}
