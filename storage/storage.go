package storage

import (
	"errors"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"github.com/l2-l1-causal-impact/bridge/model"
	"github.com/l2-l1-causal-impact/bridge/model/blocks"
	"github.com/l2-l1-causal-impact/bridge/model/daily"
	"github.com/l2-l1-causal-impact/bridge/model/gates"
	"github.com/l2-l1-causal-impact/bridge/model/visor"
	"github.com/l2-l1-causal-impact/bridge/model/welfare"
)

var log = logging.Logger("bridge/storage")

var ErrMarshalUnsupportedType = errors.New("cannot marshal unsupported type")

// ErrFileExists is returned by an exclusive CSVStorage when an artifact it would write is already
// present.
var ErrFileExists = errors.New("artifact already exists")

// Models is the list of tables the pipeline persists.
var Models = []interface{}{
	(*blocks.BlockRecord)(nil),
	(*blocks.PriceObservation)(nil),
	(*daily.DailyAggregate)(nil),
	(*welfare.WelfareBridgeRow)(nil),
	(*gates.QualityGateResult)(nil),
	(*visor.GapReport)(nil),
	(*visor.ProcessingReport)(nil),
}

// AppendOnlyTables are history tables that accumulate across runs.
var AppendOnlyTables = []string{
	"quality_gate_results",
	"gap_reports",
	"processing_reports",
}

func LatestSchemaVersion() model.Version {
	return model.LatestVersion
}

func stripQuotes(s string) string {
	return strings.Trim(s, `"`)
}
