package lens

import (
	"context"

	"github.com/l2-l1-causal-impact/bridge/model/blocks"
	"github.com/l2-l1-causal-impact/bridge/model/daily"
	"github.com/l2-l1-causal-impact/bridge/model/welfare"
	"github.com/l2-l1-causal-impact/bridge/provenance"
)

// InputAPI reads the raw inputs of the pipeline.
type InputAPI interface {
	BlockRecords(ctx context.Context) (blocks.BlockRecordList, error)
	PriceObservations(ctx context.Context) (blocks.PriceObservationList, error)
	Posterior(ctx context.Context) (welfare.PosteriorList, error)
	// Dataset returns the block input as text cells, in the form that is frozen.
	Dataset(ctx context.Context) (*provenance.Table, error)
}

// ArtifactAPI reads artifacts written by earlier pipeline steps.
type ArtifactAPI interface {
	DailyAggregates(ctx context.Context) (daily.DailyAggregateList, error)
	WelfareBridge(ctx context.Context) (welfare.WelfareBridgeRowList, error)
	Summary(ctx context.Context) (*welfare.Summary, error)
}

// DocumentAPI reads the material the quality gates inspect besides artifacts.
type DocumentAPI interface {
	Manuscript(ctx context.Context) (string, error)
	TableHeaders(ctx context.Context) (map[string][]string, error)
}

type API interface {
	InputAPI
	ArtifactAPI
	DocumentAPI
}

type APICloser func()

type APIOpener interface {
	Open(context.Context) (API, APICloser, error)
}
