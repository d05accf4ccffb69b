package file

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/lens"
	"github.com/l2-l1-causal-impact/bridge/metrics"
	"github.com/l2-l1-causal-impact/bridge/model/blocks"
	"github.com/l2-l1-causal-impact/bridge/model/daily"
	"github.com/l2-l1-causal-impact/bridge/model/welfare"
	"github.com/l2-l1-causal-impact/bridge/provenance"
)

var log = logging.Logger("bridge/lens/file")

const (
	DailyAggregatesFile = "daily_aggregates.csv"
	WelfareBridgeFile   = "welfare_bridge.csv"
	SummaryFile         = "welfare_summary.json"
)

// Paths locates the files a Lens reads. Empty paths are inputs that are not available.
type Paths struct {
	Blocks     string // csv or parquet
	Prices     string
	Posterior  string
	Manuscript string
	// ArtifactDir holds the artifacts written by earlier runs.
	ArtifactDir string
	// CovariateTables are treatment and covariate tables whose headers are checked for excluded
	// variables.
	CovariateTables []string
}

// Lens reads pipeline inputs and artifacts from local files.
type Lens struct {
	paths Paths
}

var _ lens.API = (*Lens)(nil)

func NewLens(paths Paths) *Lens {
	return &Lens{paths: paths}
}

// NewAPIOpener returns an opener for a Lens over paths.
func NewAPIOpener(paths Paths) lens.APIOpener {
	return &opener{paths: paths}
}

type opener struct {
	paths Paths
}

func (o *opener) Open(ctx context.Context) (lens.API, lens.APICloser, error) {
	return NewLens(o.paths), func() {}, nil
}

func isParquet(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".parquet")
}

// ErrNotAvailable is returned when an input is read that has no configured path.
var ErrNotAvailable = xerrors.New("input not available")

func (l *Lens) require(name, path string) error {
	if path == "" {
		return xerrors.Errorf("no %s input configured: %w", name, ErrNotAvailable)
	}
	return nil
}

func decodeFile(path string, s *schema, out interface{}) (*provenance.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("open %s: %w", path, err)
	}
	defer f.Close() // nolint: errcheck
	return decodeCSV(filepath.Base(path), f, s, out)
}

func blockSchema() *schema {
	s := newSchema(&blocks.BlockRecord{})
	s.optional["block_number"] = true
	s.missing = func(row int, elem reflect.Value, column string) {
		if column == "block_number" {
			// row numbers are zero based, matching the row index of the input
			elem.FieldByName("BlockNumber").SetInt(int64(row - 1))
		}
	}
	return s
}

func (l *Lens) readBlocks(ctx context.Context) (blocks.BlockRecordList, *provenance.Table, error) {
	if err := l.require("blocks", l.paths.Blocks); err != nil {
		return nil, nil, err
	}
	if isParquet(l.paths.Blocks) {
		return readParquetBlocks(l.paths.Blocks)
	}
	var out blocks.BlockRecordList
	raw, err := decodeFile(l.paths.Blocks, blockSchema(), &out)
	if err != nil {
		return nil, nil, err
	}
	return out, raw, nil
}

func (l *Lens) BlockRecords(ctx context.Context) (blocks.BlockRecordList, error) {
	_, span := otel.Tracer("").Start(ctx, "Lens.BlockRecords")
	defer span.End()

	out, _, err := l.readBlocks(ctx)
	if err != nil {
		return nil, err
	}
	if span.IsRecording() {
		span.SetAttributes(attribute.Int("count", len(out)), attribute.String("path", l.paths.Blocks))
	}
	metrics.RecordCount(ctx, metrics.BlocksLoaded, len(out))
	log.Infow("loaded blocks", "path", l.paths.Blocks, "count", len(out))
	return out, nil
}

func (l *Lens) Dataset(ctx context.Context) (*provenance.Table, error) {
	_, raw, err := l.readBlocks(ctx)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (l *Lens) PriceObservations(ctx context.Context) (blocks.PriceObservationList, error) {
	if l.paths.Prices == "" {
		return nil, nil
	}
	var out blocks.PriceObservationList
	if _, err := decodeFile(l.paths.Prices, newSchema(&blocks.PriceObservation{}), &out); err != nil {
		return nil, err
	}

	v := lens.NewValidation(filepath.Base(l.paths.Prices))
	for i, p := range out {
		if p.PriceUSD <= 0 {
			v.Add(i+1, "price_usd", "price must be positive, got %v", p.PriceUSD)
		}
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	log.Infow("loaded prices", "path", l.paths.Prices, "count", len(out))
	return out, nil
}

func (l *Lens) Posterior(ctx context.Context) (welfare.PosteriorList, error) {
	if err := l.require("posterior", l.paths.Posterior); err != nil {
		return nil, err
	}
	s := newSchema(&welfare.CounterfactualPosterior{})
	s.extra = func(row int, elem reflect.Value, column, cell string, v *lens.Validation) {
		cell = strings.TrimSpace(cell)
		if isNull(cell) {
			// a missing covariate marks the day as outside the model support
			return
		}
		f, err := parseFloat(cell)
		if err != nil {
			v.Add(row, column, "%v", err)
			return
		}
		p := elem.Addr().Interface().(*welfare.CounterfactualPosterior)
		if p.Covariates == nil {
			p.Covariates = map[string]float64{}
		}
		p.Covariates[column] = f
	}

	var out welfare.PosteriorList
	if _, err := decodeFile(l.paths.Posterior, s, &out); err != nil {
		return nil, err
	}
	log.Infow("loaded posterior", "path", l.paths.Posterior, "count", len(out), "covariates", out.CovariateNames())
	return out, nil
}

func (l *Lens) artifact(name string) (string, error) {
	if l.paths.ArtifactDir == "" {
		return "", xerrors.Errorf("no artifact directory configured")
	}
	return filepath.Join(l.paths.ArtifactDir, name), nil
}

func (l *Lens) DailyAggregates(ctx context.Context) (daily.DailyAggregateList, error) {
	path, err := l.artifact(DailyAggregatesFile)
	if err != nil {
		return nil, err
	}
	var out daily.DailyAggregateList
	if _, err := decodeFile(path, newSchema(&daily.DailyAggregate{}), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Lens) WelfareBridge(ctx context.Context) (welfare.WelfareBridgeRowList, error) {
	path, err := l.artifact(WelfareBridgeFile)
	if err != nil {
		return nil, err
	}
	var out welfare.WelfareBridgeRowList
	if _, err := decodeFile(path, newSchema(&welfare.WelfareBridgeRow{}), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Lens) Summary(ctx context.Context) (*welfare.Summary, error) {
	path, err := l.artifact(SummaryFile)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read summary: %w", err)
	}
	var s welfare.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, xerrors.Errorf("decode summary: %w", err)
	}
	return &s, nil
}

func (l *Lens) Manuscript(ctx context.Context) (string, error) {
	if err := l.require("manuscript", l.paths.Manuscript); err != nil {
		return "", err
	}
	data, err := os.ReadFile(l.paths.Manuscript)
	if err != nil {
		return "", xerrors.Errorf("read manuscript: %w", err)
	}
	return string(data), nil
}

// TableHeaders returns the column names of every covariate table and of the posterior, keyed by
// path.
func (l *Lens) TableHeaders(ctx context.Context) (map[string][]string, error) {
	paths := append([]string(nil), l.paths.CovariateTables...)
	if l.paths.Posterior != "" {
		paths = append(paths, l.paths.Posterior)
	}

	out := make(map[string][]string, len(paths))
	for _, p := range paths {
		var (
			cols []string
			err  error
		)
		if isParquet(p) {
			cols, err = parquetColumns(p)
		} else {
			cols, err = csvHeader(p)
		}
		if err != nil {
			return nil, err
		}
		out[p] = cols
	}
	return out, nil
}

func csvHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("open %s: %w", path, err)
	}
	defer f.Close() // nolint: errcheck

	header, err := csv.NewReader(f).Read()
	if err != nil {
		return nil, xerrors.Errorf("read header of %s: %w", path, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	return header, nil
}
