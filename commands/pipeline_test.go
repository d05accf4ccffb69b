package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/config"
	"github.com/l2-l1-causal-impact/bridge/gates"
	"github.com/l2-l1-causal-impact/bridge/lens"
	"github.com/l2-l1-causal-impact/bridge/lens/file"
	"github.com/l2-l1-causal-impact/bridge/model/daily"
	"github.com/l2-l1-causal-impact/bridge/model/visor"
	"github.com/l2-l1-causal-impact/bridge/model/welfare"
	"github.com/l2-l1-causal-impact/bridge/provenance"
	"github.com/l2-l1-causal-impact/bridge/storage"
	"github.com/l2-l1-causal-impact/bridge/tasks/test"
)

func newTestPipeline(t *testing.T, api lens.API, opts PipelineOpts) (*pipeline, *storage.MemStorage) {
	t.Helper()
	dir := t.TempDir()

	build, err := storage.NewCSVStorageLatest(dir, storage.ArtifactCSVStorageOptions())
	require.NoError(t, err)
	ledger, err := provenance.OpenLedger(filepath.Join(dir, "ledger"))
	require.NoError(t, err)

	mc := clock.NewMock()
	mc.Set(time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC))

	mem := storage.NewMemStorageLatest()
	return &pipeline{
		opts:     opts,
		name:     "test-run",
		cfg:      config.DefaultConf(),
		api:      api,
		closer:   func() {},
		ledger:   ledger,
		build:    build,
		extra:    mem,
		buildDir: dir,
		clock:    mc,
	}, mem
}

func processingReports(t *testing.T, mem *storage.MemStorage) []*visor.ProcessingReport {
	t.Helper()
	var out []*visor.ProcessingReport
	for _, r := range mem.Rows("processing_reports") {
		pr, ok := r.(*visor.ProcessingReport)
		require.True(t, ok, "unexpected row type %T", r)
		out = append(out, pr)
	}
	return out
}

func TestStepRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	p, mem := newTestPipeline(t, &test.MockAPI{}, PipelineOpts{})

	require.NoError(t, p.step(ctx, "freeze", func() (string, error) { return "abc", nil }))

	v := lens.NewValidation("blocks")
	v.Add(2, "base_fee", "negative value")
	v.Add(3, "timestamp", "not a timestamp")
	err := p.step(ctx, "aggregate", func() (string, error) { return "abc", v.Err() })
	require.Error(t, err)

	reports := processingReports(t, mem)
	require.Len(t, reports, 2)

	assert.Equal(t, "test-run", reports[0].Reporter)
	assert.Equal(t, "freeze", reports[0].Task)
	assert.Equal(t, "abc", reports[0].DatasetHash)
	assert.Equal(t, visor.ProcessingStatusOK, reports[0].Status)
	assert.Nil(t, reports[0].ErrorsDetected)

	assert.Equal(t, "aggregate", reports[1].Task)
	assert.True(t, reports[1].Failed())
	assert.Equal(t, err.Error(), reports[1].StatusInformation)
	assert.Equal(t, []string{
		`row 2 column "base_fee": negative value`,
		`row 3 column "timestamp": not a timestamp`,
	}, reports[1].ErrorsDetected)

	_, err = os.Stat(p.build.Filename("processing_reports"))
	assert.NoError(t, err)
}

func TestFreezeThenVerify(t *testing.T) {
	ctx := context.Background()
	table := &provenance.Table{
		Name:    "block_records",
		Columns: []string{"block_number", "timestamp"},
		Rows:    [][]string{{"1", "2024-01-01 00:00:00+00:00"}},
	}

	api := &test.MockAPI{}
	api.On("Dataset", mock.Anything).Return(table, nil)
	p, mem := newTestPipeline(t, api, PipelineOpts{})

	rec, err := p.freeze(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", rec.CommitReference)
	assert.Equal(t, provenance.StateFrozen, p.ledger.State())

	// a second run validates against the record written by the first
	ledger, err := provenance.OpenLedger(filepath.Join(p.buildDir, "ledger"))
	require.NoError(t, err)
	p.ledger = ledger
	got, err := p.verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.ContentHash, got.ContentHash)

	// a changed dataset is refused
	changed := &test.MockAPI{}
	changed.On("Dataset", mock.Anything).Return(&provenance.Table{
		Name:    table.Name,
		Columns: table.Columns,
		Rows:    [][]string{{"1", "2024-01-01 00:00:01+00:00"}},
	}, nil)
	ledger, err = provenance.OpenLedger(filepath.Join(p.buildDir, "ledger"))
	require.NoError(t, err)
	p.ledger = ledger
	p.api = changed
	_, err = p.verify(ctx)
	var mismatch *provenance.HashMismatchError
	require.True(t, xerrors.As(err, &mismatch))

	reports := processingReports(t, mem)
	require.Len(t, reports, 3)
	assert.Equal(t, rec.ContentHash, reports[0].DatasetHash)
	assert.Equal(t, visor.ProcessingStatusOK, reports[1].Status)
	assert.Equal(t, visor.ProcessingStatusError, reports[2].Status)
	api.AssertExpectations(t)
}

func TestGateInputsLoadsMissingArtifacts(t *testing.T) {
	ctx := context.Background()
	aggs := daily.DailyAggregateList{{Date: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)}}
	rows := welfare.WelfareBridgeRowList{{Date: aggs[0].Date}}
	summary := &welfare.Summary{Regime: "merge_dencun"}
	post := welfare.PosteriorList{{Date: aggs[0].Date, Covariates: map[string]float64{"tvl": 1}}}
	headers := map[string][]string{"treatment.csv": {"date", "tvl"}}

	api := &test.MockAPI{}
	api.On("DailyAggregates", mock.Anything).Return(aggs, nil)
	api.On("WelfareBridge", mock.Anything).Return(rows, nil)
	api.On("Summary", mock.Anything).Return(summary, nil)
	api.On("Posterior", mock.Anything).Return(post, nil)
	api.On("Manuscript", mock.Anything).Return("", xerrors.Errorf("no manuscript input configured: %w", file.ErrNotAvailable))
	api.On("TableHeaders", mock.Anything).Return(headers, nil)

	p, _ := newTestPipeline(t, api, PipelineOpts{Posterior: "posterior.csv"})
	in := &gates.Inputs{}
	require.NoError(t, p.gateInputs(ctx, in))

	assert.Equal(t, aggs, in.Aggregates)
	assert.Equal(t, rows, in.Rows)
	assert.Same(t, summary, in.Summary)
	assert.Equal(t, []string{"tvl"}, in.PosteriorCovariates)
	assert.Empty(t, in.Manuscript)
	assert.Equal(t, headers, in.TableHeaders)
	assert.Nil(t, in.Blocks)

	api.AssertExpectations(t)
	api.AssertNotCalled(t, "BlockRecords", mock.Anything)
	api.AssertNotCalled(t, "PriceObservations", mock.Anything)
}

func TestGateInputsKeepsSuppliedArtifacts(t *testing.T) {
	ctx := context.Background()
	api := &test.MockAPI{}
	api.On("TableHeaders", mock.Anything).Return(map[string][]string{}, nil)

	p, _ := newTestPipeline(t, api, PipelineOpts{})
	in := &gates.Inputs{
		Aggregates: daily.DailyAggregateList{},
		Rows:       welfare.WelfareBridgeRowList{},
		Summary:    &welfare.Summary{},
		Manuscript: "# Results\n",
	}
	require.NoError(t, p.gateInputs(ctx, in))
	assert.Equal(t, "# Results\n", in.Manuscript)

	api.AssertNumberOfCalls(t, "TableHeaders", 1)
	api.AssertNotCalled(t, "DailyAggregates", mock.Anything)
	api.AssertNotCalled(t, "Manuscript", mock.Anything)
}

func TestGateInputsPropagatesManuscriptErrors(t *testing.T) {
	api := &test.MockAPI{}
	api.On("Manuscript", mock.Anything).Return("", os.ErrPermission)

	p, _ := newTestPipeline(t, api, PipelineOpts{})
	in := &gates.Inputs{
		Aggregates: daily.DailyAggregateList{},
		Rows:       welfare.WelfareBridgeRowList{},
		Summary:    &welfare.Summary{},
	}
	err := p.gateInputs(context.Background(), in)
	assert.True(t, xerrors.Is(err, os.ErrPermission))
}

func TestMultiStoragePersistsToEach(t *testing.T) {
	ctx := context.Background()
	a, b := storage.NewMemStorageLatest(), storage.NewMemStorageLatest()
	report := &visor.ProcessingReport{Reporter: "r", Task: "t", Status: visor.ProcessingStatusOK}

	require.NoError(t, multiStorage{a, b}.PersistBatch(ctx, report))
	assert.Len(t, a.Rows("processing_reports"), 1)
	assert.Len(t, b.Rows("processing_reports"), 1)
}
