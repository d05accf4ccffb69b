package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/raulk/clock"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/l2-l1-causal-impact/bridge/chain/gap"
	"github.com/l2-l1-causal-impact/bridge/config"
	"github.com/l2-l1-causal-impact/bridge/gates"
	"github.com/l2-l1-causal-impact/bridge/lens"
	"github.com/l2-l1-causal-impact/bridge/lens/file"
	"github.com/l2-l1-causal-impact/bridge/model"
	"github.com/l2-l1-causal-impact/bridge/model/blocks"
	"github.com/l2-l1-causal-impact/bridge/model/daily"
	"github.com/l2-l1-causal-impact/bridge/model/visor"
	"github.com/l2-l1-causal-impact/bridge/model/welfare"
	"github.com/l2-l1-causal-impact/bridge/provenance"
	"github.com/l2-l1-causal-impact/bridge/storage"
	"github.com/l2-l1-causal-impact/bridge/tasks/aggregate"
	"github.com/l2-l1-causal-impact/bridge/tasks/bridge"
	"github.com/l2-l1-causal-impact/bridge/units"
)

// GateReportFile is the report of the latest validation run, written to the build directory.
const GateReportFile = "gate_report.json"

type PipelineOpts struct {
	Name            string
	Config          string
	Blocks          string
	Prices          string
	Posterior       string
	Manuscript      string
	CovariateTables cli.StringSlice
	BuildDir        string
	Storage         string
	Commit          string
	Progress        bool
}

var PipelineFlags PipelineOpts

var (
	nameFlag = &cli.StringFlag{
		Name:        "name",
		Usage:       "Name of the run, recorded as the reporter of processing and gap reports.",
		EnvVars:     []string{"BRIDGE_NAME"},
		Value:       "bridge",
		Destination: &PipelineFlags.Name,
	}
	configFlag = &cli.StringFlag{
		Name:        "config",
		Usage:       "Specify path of config file to use.",
		EnvVars:     []string{"BRIDGE_CONFIG"},
		Value:       "./bridge.toml",
		Destination: &PipelineFlags.Config,
	}
	blocksFlag = &cli.StringFlag{
		Name:        "blocks",
		Usage:       "Block records `FILE` (csv or parquet).",
		EnvVars:     []string{"BRIDGE_BLOCKS"},
		Destination: &PipelineFlags.Blocks,
	}
	pricesFlag = &cli.StringFlag{
		Name:        "prices",
		Usage:       "Asset price observations `FILE` (csv).",
		EnvVars:     []string{"BRIDGE_PRICES"},
		Destination: &PipelineFlags.Prices,
	}
	posteriorFlag = &cli.StringFlag{
		Name:        "posterior",
		Usage:       "Counterfactual posterior `FILE` (csv).",
		EnvVars:     []string{"BRIDGE_POSTERIOR"},
		Destination: &PipelineFlags.Posterior,
	}
	manuscriptFlag = &cli.StringFlag{
		Name:        "manuscript",
		Usage:       "Manuscript `FILE` checked by the claims gate, overrides Gates.Manuscript.",
		EnvVars:     []string{"BRIDGE_MANUSCRIPT"},
		Destination: &PipelineFlags.Manuscript,
	}
	covariateFlag = &cli.StringSliceFlag{
		Name:        "covariate-table",
		Usage:       "Treatment or covariate table checked for excluded variables, in addition to Gates.CovariateTables.",
		EnvVars:     []string{"BRIDGE_COVARIATE_TABLES"},
		Destination: &PipelineFlags.CovariateTables,
	}
	buildDirFlag = &cli.StringFlag{
		Name:        "build-dir",
		Usage:       "Directory artifacts and history tables are written to.",
		EnvVars:     []string{"BRIDGE_BUILD_DIR"},
		Value:       "./build",
		Destination: &PipelineFlags.BuildDir,
	}
	storageFlag = &cli.StringFlag{
		Name:        "storage",
		Usage:       "Name of a configured storage that also receives artifacts and history.",
		EnvVars:     []string{"BRIDGE_STORAGE"},
		Destination: &PipelineFlags.Storage,
	}
	commitFlag = &cli.StringFlag{
		Name:        "commit",
		Usage:       "Commit reference recorded in the freeze record.",
		EnvVars:     []string{"BRIDGE_COMMIT"},
		Destination: &PipelineFlags.Commit,
	}
	progressFlag = &cli.BoolFlag{
		Name:        "progress",
		Usage:       "Show a progress bar while aggregating.",
		EnvVars:     []string{"BRIDGE_PROGRESS"},
		Destination: &PipelineFlags.Progress,
	}
)

// inputFlags are the flags every pipeline command accepts.
func inputFlags(extra ...cli.Flag) []cli.Flag {
	return append([]cli.Flag{nameFlag, configFlag, blocksFlag, pricesFlag, posteriorFlag, buildDirFlag, storageFlag}, extra...)
}

// pipeline holds the configuration and the storages shared by the steps of one command.
type pipeline struct {
	opts     PipelineOpts
	name     string
	cfg      *config.Conf
	api      lens.API
	closer   lens.APICloser
	ledger   *provenance.Ledger
	catalog  *storage.Catalog
	build    *storage.CSVStorage
	extra    model.Storage
	buildDir string
	progress bool
	clock    clock.Clock
}

func openPipeline(ctx context.Context, opts PipelineOpts) (*pipeline, error) {
	cfg, err := config.FromFile(opts.Config)
	if err != nil {
		return nil, xerrors.Errorf("load config %q: %w", opts.Config, err)
	}

	buildDir, err := homedir.Expand(opts.BuildDir)
	if err != nil {
		return nil, xerrors.Errorf("expand build directory: %w", err)
	}
	build, err := storage.NewCSVStorageLatest(buildDir, storage.ArtifactCSVStorageOptions())
	if err != nil {
		return nil, err
	}

	catalog, err := storage.NewCatalog(cfg.Storage)
	if err != nil {
		return nil, err
	}
	extra, err := catalog.Connect(ctx, opts.Storage)
	if err != nil {
		return nil, err
	}

	ledgerDir, err := config.ExpandPath(cfg.Provenance.LedgerDir)
	if err != nil {
		return nil, xerrors.Errorf("expand ledger directory: %w", err)
	}
	alg, err := provenance.ParseAlgorithm(cfg.Provenance.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	ledger, err := provenance.OpenLedger(ledgerDir, provenance.WithAlgorithm(alg))
	if err != nil {
		return nil, err
	}

	manuscript := opts.Manuscript
	if manuscript == "" {
		manuscript = cfg.Gates.Manuscript
	}
	paths := file.Paths{
		Blocks:          opts.Blocks,
		Prices:          opts.Prices,
		Posterior:       opts.Posterior,
		Manuscript:      manuscript,
		ArtifactDir:     buildDir,
		CovariateTables: append(append([]string(nil), cfg.Gates.CovariateTables...), opts.CovariateTables.Value()...),
	}
	for i, p := range paths.CovariateTables {
		if paths.CovariateTables[i], err = config.ExpandPath(p); err != nil {
			return nil, xerrors.Errorf("expand covariate table path: %w", err)
		}
	}
	api, closer, err := file.NewAPIOpener(paths).Open(ctx)
	if err != nil {
		return nil, err
	}

	return &pipeline{
		opts:     opts,
		name:     opts.Name,
		cfg:      cfg,
		api:      api,
		closer:   closer,
		ledger:   ledger,
		catalog:  catalog,
		build:    build,
		extra:    extra,
		buildDir: buildDir,
		progress: opts.Progress,
		clock:    clock.New(),
	}, nil
}

func (p *pipeline) Close() error {
	p.closer()
	return p.catalog.Close()
}

// persist writes ps to the build directory and to the extra storage.
func (p *pipeline) persist(ctx context.Context, ps ...model.Persistable) error {
	if err := p.build.PersistBatch(ctx, ps...); err != nil {
		return err
	}
	if err := p.extra.PersistBatch(ctx, ps...); err != nil {
		return xerrors.Errorf("persist to storage %q: %w", p.opts.Storage, err)
	}
	return nil
}

// history returns a storage appending to the history tables of the build directory and of the
// extra storage.
func (p *pipeline) history() model.Storage {
	return multiStorage{p.build, p.extra}
}

// step runs fn as the named task and appends a processing report with its outcome.
func (p *pipeline) step(ctx context.Context, task string, fn func() (string, error)) error {
	started := p.clock.Now().UTC()
	hash, err := fn()
	report := &visor.ProcessingReport{
		Reporter:    p.name,
		Task:        task,
		StartedAt:   started,
		CompletedAt: p.clock.Now().UTC(),
		DatasetHash: hash,
		Status:      visor.ProcessingStatusOK,
	}
	if err != nil {
		report.Status = visor.ProcessingStatusError
		report.StatusInformation = err.Error()
		var ive *lens.InputValidationError
		if xerrors.As(err, &ive) {
			errs := make([]string, 0, len(ive.Violations()))
			for _, v := range ive.Violations() {
				errs = append(errs, v.Error())
			}
			report.ErrorsDetected = errs
		}
	}
	if perr := p.persist(ctx, report); perr != nil {
		log.Errorw("persist processing report", "task", task, "error", perr)
	}
	return err
}

// freeze hashes the block input and writes the freeze record.
func (p *pipeline) freeze(ctx context.Context, commit string) (*provenance.FreezeRecord, error) {
	var rec *provenance.FreezeRecord
	err := p.step(ctx, "freeze", func() (string, error) {
		t, err := p.api.Dataset(ctx)
		if err != nil {
			return "", err
		}
		rec, err = p.ledger.Freeze(ctx, t, commit)
		if err != nil {
			return "", err
		}
		return rec.ContentHash, nil
	})
	return rec, err
}

// verify validates the block input against the freeze record and returns the authorized record.
func (p *pipeline) verify(ctx context.Context) (*provenance.FreezeRecord, error) {
	var rec *provenance.FreezeRecord
	err := p.step(ctx, "verify", func() (string, error) {
		t, err := p.api.Dataset(ctx)
		if err != nil {
			return "", err
		}
		if err := p.ledger.Validate(ctx, t); err != nil {
			return "", err
		}
		rec, err = p.ledger.Authorize()
		if err != nil {
			return "", err
		}
		return rec.ContentHash, nil
	})
	return rec, err
}

// aggregate computes and persists the daily aggregates and checks their coverage.
func (p *pipeline) aggregate(ctx context.Context, rec *provenance.FreezeRecord) (daily.DailyAggregateList, blocks.BlockRecordList, blocks.PriceObservationList, error) {
	var (
		aggs   daily.DailyAggregateList
		bl     blocks.BlockRecordList
		prices blocks.PriceObservationList
	)
	err := p.step(ctx, aggregate.TaskName, func() (string, error) {
		var err error
		if bl, err = p.api.BlockRecords(ctx); err != nil {
			return rec.ContentHash, err
		}
		if prices, err = p.api.PriceObservations(ctx); err != nil {
			return rec.ContentHash, err
		}

		fee, err := units.Lookup(p.cfg.Units.FeeUnit)
		if err != nil {
			return rec.ContentHash, err
		}
		report, err := units.Lookup(p.cfg.Units.ReportUnit)
		if err != nil {
			return rec.ContentHash, err
		}
		opts := []aggregate.Option{aggregate.WithWorkers(p.cfg.Aggregate.Workers), aggregate.WithUnits(fee, report)}
		if p.progress {
			bar := pb.New(len(bl.ByDate()))
			bar.ShowTimeLeft = true
			bar.Start()
			defer bar.Finish()
			opts = append(opts, aggregate.WithProgress(func() { bar.Increment() }))
		}

		if aggs, err = aggregate.NewTask(opts...).Aggregate(ctx, bl, prices, rec); err != nil {
			return rec.ContentHash, err
		}

		start, end, err := p.coverage()
		if err != nil {
			return rec.ContentHash, err
		}
		finder := gap.NewFinder(p.name, "daily_aggregates", start, end).WithClock(p.clock)
		if _, err := finder.Check(ctx, p.history(), aggs.Dates()); err != nil {
			return rec.ContentHash, err
		}

		return rec.ContentHash, p.persist(ctx, aggs)
	})
	return aggs, bl, prices, err
}

// coverage returns the configured range the daily series must cover, zero for the series' own
// bounds.
func (p *pipeline) coverage() (start, end time.Time, err error) {
	if s := p.cfg.Aggregate.Start; s != "" {
		if start, err = config.ParseDate(s); err != nil {
			return start, end, xerrors.Errorf("aggregate start: %w", err)
		}
	}
	if e := p.cfg.Aggregate.End; e != "" {
		if end, err = config.ParseDate(e); err != nil {
			return start, end, xerrors.Errorf("aggregate end: %w", err)
		}
	}
	return start, end, nil
}

// bridge builds and persists the welfare bridge table and its summary.
func (p *pipeline) bridge(ctx context.Context, rec *provenance.FreezeRecord, aggs daily.DailyAggregateList) (welfare.WelfareBridgeRowList, *welfare.Summary, welfare.PosteriorList, error) {
	var (
		rows    welfare.WelfareBridgeRowList
		summary *welfare.Summary
		post    welfare.PosteriorList
	)
	err := p.step(ctx, bridge.TaskName, func() (string, error) {
		b, err := bridge.NewBuilder(p.cfg.Bridge, bridge.WithGapStorage(p.history(), p.name), bridge.WithWorkers(p.cfg.Bridge.Workers), bridge.WithClock(p.clock))
		if err != nil {
			return rec.ContentHash, err
		}
		if aggs == nil {
			if aggs, err = p.api.DailyAggregates(ctx); err != nil {
				return rec.ContentHash, err
			}
			if err := provenance.VerifyStamps(rec, file.DailyAggregatesFile, aggs); err != nil {
				return rec.ContentHash, err
			}
		}
		if post, err = p.api.Posterior(ctx); err != nil {
			return rec.ContentHash, err
		}
		if rows, summary, err = b.Build(ctx, aggs, post, rec); err != nil {
			return rec.ContentHash, err
		}
		if err := p.persist(ctx, rows); err != nil {
			return rec.ContentHash, err
		}
		return rec.ContentHash, storage.WriteJSON(filepath.Join(p.buildDir, file.SummaryFile), summary, true)
	})
	return rows, summary, post, err
}

// gate runs the quality gates over in, filling any artifact not supplied from the build
// directory, and writes the report.
func (p *pipeline) gate(ctx context.Context, in *gates.Inputs) (*gates.Report, error) {
	var report *gates.Report
	err := p.step(ctx, gates.TaskName, func() (string, error) {
		if err := p.gateInputs(ctx, in); err != nil {
			return in.Record.ContentHash, err
		}
		gs, err := gates.DefaultGates(p.cfg.Gates, p.cfg.Bridge)
		if err != nil {
			return in.Record.ContentHash, err
		}
		if report, err = gates.NewValidator(gs, gates.WithHistory(p.history()), gates.WithClock(p.clock)).Run(ctx, in); err != nil {
			return in.Record.ContentHash, err
		}
		if err := storage.WriteJSON(filepath.Join(p.buildDir, GateReportFile), report, false); err != nil {
			return in.Record.ContentHash, err
		}
		return in.Record.ContentHash, report.Err()
	})
	return report, err
}

func (p *pipeline) gateInputs(ctx context.Context, in *gates.Inputs) error {
	var err error
	if in.Aggregates == nil {
		if in.Aggregates, err = p.api.DailyAggregates(ctx); err != nil {
			return err
		}
	}
	if in.Rows == nil {
		if in.Rows, err = p.api.WelfareBridge(ctx); err != nil {
			return err
		}
	}
	if in.Summary == nil {
		if in.Summary, err = p.api.Summary(ctx); err != nil {
			return err
		}
	}
	if in.Blocks == nil && p.opts.Blocks != "" {
		if in.Blocks, err = p.api.BlockRecords(ctx); err != nil {
			return err
		}
	}
	if in.Prices == nil && p.opts.Prices != "" {
		if in.Prices, err = p.api.PriceObservations(ctx); err != nil {
			return err
		}
	}
	if in.PosteriorCovariates == nil && p.opts.Posterior != "" {
		post, err := p.api.Posterior(ctx)
		if err != nil {
			return err
		}
		in.PosteriorCovariates = post.CovariateNames()
	}
	if in.Manuscript == "" {
		in.Manuscript, err = p.api.Manuscript(ctx)
		if err != nil && !xerrors.Is(err, file.ErrNotAvailable) {
			return err
		}
	}
	if in.TableHeaders, err = p.api.TableHeaders(ctx); err != nil {
		return err
	}
	return nil
}

// multiStorage persists every batch to each of its storages in turn.
type multiStorage []model.Storage

func (m multiStorage) PersistBatch(ctx context.Context, ps ...model.Persistable) error {
	for _, s := range m {
		if err := s.PersistBatch(ctx, ps...); err != nil {
			return err
		}
	}
	return nil
}

// reqContext returns a context cancelled when the operator interrupts the command.
func reqContext(cctx *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
}

// printf writes command output to stdout.
func printf(cctx *cli.Context, format string, args ...interface{}) {
	w := cctx.App.Writer
	if w == nil {
		w = os.Stdout
	}
	_, _ = fmt.Fprintf(w, format, args...)
}
