package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opencensus.io/stats/view"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/metrics"
	"github.com/l2-l1-causal-impact/bridge/model"
	"github.com/l2-l1-causal-impact/bridge/model/daily"
	"github.com/l2-l1-causal-impact/bridge/model/gates"
)

type TestModel struct {
	Height  int64  `pg:",pk,notnull,use_zero"`
	Block   string `pg:",pk,notnull"`
	Message string `pg:",pk,notnull"`
}

func (tm *TestModel) Persist(ctx context.Context, s model.StorageBatch, version model.Version) error {
	return s.PersistModel(ctx, tm)
}

var day = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func TestCSVTable(t *testing.T) {
	table := ModelTable(&daily.DailyAggregate{}, model.Version{Major: 1})
	assert.Equal(t, "daily_aggregates", table.Name)
	assert.Equal(t, []string{
		"date",
		"gas_weighted_base_fee",
		"gas_weighted_priority_fee",
		"total_gas_used",
		"block_count",
		"asset_price_gas_time_weighted",
		"asset_price_close",
		"asset_price_simple_mean",
		"is_zero_gas",
		"dataset_hash",
	}, table.Columns)
	assert.Equal(t, "date", table.Types[0])
}

func TestCSVPersist(t *testing.T) {
	tm := &TestModel{
		Height:  42,
		Block:   "blocka",
		Message: "msg1",
	}

	dir := t.TempDir()
	st, err := NewCSVStorage(dir, model.Version{Major: 1}, DefaultCSVStorageOptions())
	require.NoError(t, err)

	err = st.PersistBatch(context.Background(), tm)
	require.NoError(t, err)

	written, err := os.ReadFile(filepath.Join(dir, "test_models.csv"))
	require.NoError(t, err)
	assert.EqualValues(t,
		"height,block,message\n"+
			"42,blocka,msg1\n",
		string(written))
}

func TestCSVPersistAppends(t *testing.T) {
	dir := t.TempDir()
	st, err := NewCSVStorage(dir, model.Version{Major: 1}, DefaultCSVStorageOptions())
	require.NoError(t, err)

	require.NoError(t, st.PersistBatch(context.Background(), &TestModel{Height: 42, Block: "blocka", Message: "msg1"}))
	require.NoError(t, st.PersistBatch(context.Background(), &TestModel{Height: 43, Block: "blockb", Message: "msg2"}))

	written, err := os.ReadFile(filepath.Join(dir, "test_models.csv"))
	require.NoError(t, err)
	assert.EqualValues(t,
		"height,block,message\n"+
			"42,blocka,msg1\n"+
			"43,blockb,msg2\n",
		string(written))
}

func TestCSVPersistNullableAndDate(t *testing.T) {
	agg := daily.DailyAggregateList{
		{
			Date:               day,
			GasWeightedBaseFee: model.Float64(30.5),
			TotalGasUsed:       1000,
			BlockCount:         2,
			DatasetHash:        "abc",
		},
		{
			Date:        day.AddDate(0, 0, 1),
			IsZeroGas:   true,
			DatasetHash: "abc",
		},
	}

	dir := t.TempDir()
	st, err := NewCSVStorageLatest(dir, DefaultCSVStorageOptions())
	require.NoError(t, err)
	require.NoError(t, st.PersistBatch(context.Background(), agg))

	written, err := os.ReadFile(filepath.Join(dir, "daily_aggregates.csv"))
	require.NoError(t, err)
	assert.EqualValues(t,
		"date,gas_weighted_base_fee,gas_weighted_priority_fee,total_gas_used,block_count,asset_price_gas_time_weighted,asset_price_close,asset_price_simple_mean,is_zero_gas,dataset_hash\n"+
			"2024-03-01,30.5,NULL,1000,2,NULL,NULL,NULL,false,abc\n"+
			"2024-03-02,NULL,NULL,0,0,NULL,NULL,NULL,true,abc\n",
		string(written))
}

func TestCSVPersistEvidenceJSON(t *testing.T) {
	res := &gates.QualityGateResult{
		RunID:       "run1",
		GateID:      "G1",
		Status:      gates.StatusPass,
		Evidence:    gates.Evidence{{Name: "x", Status: gates.StatusPass}},
		DatasetHash: "abc",
		CheckedAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	dir := t.TempDir()
	st, err := NewCSVStorageLatest(dir, DefaultCSVStorageOptions())
	require.NoError(t, err)
	require.NoError(t, st.PersistBatch(context.Background(), res))

	written, err := os.ReadFile(filepath.Join(dir, "quality_gate_results.csv"))
	require.NoError(t, err)
	assert.EqualValues(t,
		"run_id,gate_id,status,evidence,dataset_hash,checked_at\n"+
			`run1,G1,pass,"[{""name"":""x"",""status"":""pass""}]",abc,2024-03-01T12:00:00Z`+"\n",
		string(written))
}

func TestCSVExclusive(t *testing.T) {
	dir := t.TempDir()
	st, err := NewCSVStorageLatest(dir, ArtifactCSVStorageOptions())
	require.NoError(t, err)

	agg := &daily.DailyAggregate{Date: day, DatasetHash: "abc"}
	res := &gates.QualityGateResult{RunID: "run1", GateID: "G1", Status: gates.StatusPass, DatasetHash: "abc", CheckedAt: day}

	require.NoError(t, st.PersistBatch(context.Background(), agg, res))

	// artifacts are never overwritten or extended
	err = st.PersistBatch(context.Background(), agg)
	require.Error(t, err)
	assert.True(t, xerrors.Is(err, ErrFileExists))

	// history tables accumulate
	res2 := &gates.QualityGateResult{RunID: "run2", GateID: "G1", Status: gates.StatusFail, DatasetHash: "abc", CheckedAt: day}
	require.NoError(t, st.PersistBatch(context.Background(), res2))

	written, err := os.ReadFile(st.Filename("quality_gate_results"))
	require.NoError(t, err)
	assert.EqualValues(t,
		"run_id,gate_id,status,evidence,dataset_hash,checked_at\n"+
			"run1,G1,pass,null,abc,2024-03-01T00:00:00Z\n"+
			"run2,G1,fail,null,abc,2024-03-01T00:00:00Z\n",
		string(written))
}

func TestCSVRecordsPersistFailure(t *testing.T) {
	failures := metrics.PersistFailure.Name() + "_total"
	v := view.Find(failures)
	if v == nil {
		require.NoError(t, view.Register(metrics.DefaultViews...))
		v = view.Find(failures)
	}
	require.NotNil(t, v)

	count := func() int64 {
		rows, err := view.RetrieveData(failures)
		require.NoError(t, err)
		for _, r := range rows {
			for _, tg := range r.Tags {
				if tg.Key == metrics.Table && tg.Value == "daily_aggregates" {
					return r.Data.(*view.CountData).Value
				}
			}
		}
		return 0
	}

	st, err := NewCSVStorageLatest(t.TempDir(), ArtifactCSVStorageOptions())
	require.NoError(t, err)
	agg := &daily.DailyAggregate{Date: day, DatasetHash: "abc"}
	require.NoError(t, st.PersistBatch(context.Background(), agg))

	before := count()
	require.Error(t, st.PersistBatch(context.Background(), agg))
	assert.Equal(t, before+1, count())
}

func TestCSVOptionOmitHeader(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultCSVStorageOptions()
	opts.OmitHeader = true
	st, err := NewCSVStorage(dir, model.Version{Major: 1}, opts)
	require.NoError(t, err)

	require.NoError(t, st.PersistBatch(context.Background(), &TestModel{Height: 42, Block: "blocka", Message: "msg1"}))

	written, err := os.ReadFile(filepath.Join(dir, "test_models.csv"))
	require.NoError(t, err)
	assert.EqualValues(t, "42,blocka,msg1\n", string(written))
}

func TestCSVOptionFilePattern(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultCSVStorageOptions()
	opts.FilePattern = "run-{table}.csv"
	st, err := NewCSVStorage(dir, model.Version{Major: 1}, opts)
	require.NoError(t, err)

	require.NoError(t, st.PersistBatch(context.Background(), &TestModel{Height: 42, Block: "blocka", Message: "msg1"}))

	_, err = os.Stat(filepath.Join(dir, "run-test_models.csv"))
	require.NoError(t, err)
}

func TestMemStorage(t *testing.T) {
	st := NewMemStorageLatest()
	agg := daily.DailyAggregateList{
		{Date: day, DatasetHash: "abc"},
		{Date: day.AddDate(0, 0, 1), DatasetHash: "abc"},
	}
	require.NoError(t, st.PersistBatch(context.Background(), agg))

	rows := st.Rows("daily_aggregates")
	require.Len(t, rows, 2)
	assert.Equal(t, agg[1], rows[1])
}
