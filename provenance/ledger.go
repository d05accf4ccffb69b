package provenance

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	fslock "github.com/ipfs/go-fs-lock"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/model"
)

var log = logging.Logger("bridge/provenance")

const (
	RecordFile = "freeze.yaml"
	lockFile   = "freeze.lock"
)

// State of a ledger within one run.
type State string

const (
	StateUnfrozen   State = "unfrozen"
	StateFrozen     State = "frozen"
	StateValidated  State = "validated"
	StateMismatched State = "mismatched"
)

// A Ledger owns the freeze record of a ledger directory.
type Ledger struct {
	dir   string
	alg   Algorithm
	clock clock.Clock

	mu         sync.Mutex
	state      State
	record     *FreezeRecord
	frozenHere bool
}

type LedgerOpt func(*Ledger)

// WithClock sets the clock used to stamp new records.
func WithClock(c clock.Clock) LedgerOpt {
	return func(l *Ledger) {
		l.clock = c
	}
}

// WithAlgorithm sets the digest used by Freeze. Validate always uses the algorithm of the record.
func WithAlgorithm(a Algorithm) LedgerOpt {
	return func(l *Ledger) {
		l.alg = a
	}
}

// OpenLedger opens the ledger in dir, creating the directory if needed and loading the freeze record
// when one exists.
func OpenLedger(dir string, opts ...LedgerOpt) (*Ledger, error) {
	l := &Ledger{
		dir:   dir,
		alg:   DefaultAlgorithm,
		clock: clock.New(),
		state: StateUnfrozen,
	}
	for _, o := range opts {
		o(l)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.Errorf("create ledger directory: %w", err)
	}

	rec, err := readRecord(l.RecordPath())
	switch {
	case err == nil:
		l.record = rec
		l.state = StateFrozen
	case os.IsNotExist(err):
	default:
		return nil, err
	}
	return l, nil
}

// RecordPath returns the path of the freeze record file.
func (l *Ledger) RecordPath() string {
	return filepath.Join(l.dir, RecordFile)
}

func (l *Ledger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Record returns the freeze record, nil while unfrozen. Use Authorize to obtain a record that may
// be used to stamp artifacts.
func (l *Ledger) Record() *FreezeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.record
}

// Freeze hashes t and writes the freeze record. A directory can be frozen exactly once.
func (l *Ledger) Freeze(ctx context.Context, t *Table, commitReference string) (*FreezeRecord, error) {
	ctx, span := otel.Tracer("").Start(ctx, "Ledger.Freeze")
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.record != nil {
		return nil, ErrAlreadyFrozen
	}

	unlocker, err := fslock.Lock(l.dir, lockFile)
	if err != nil {
		le := fslock.LockedError("")
		if xerrors.As(err, &le) {
			return nil, xerrors.Errorf("ledger %s is being frozen by another process: %w", l.dir, err)
		}
		return nil, xerrors.Errorf("acquiring ledger lock: %w", err)
	}
	defer func() {
		if err := unlocker.Close(); err != nil {
			log.Errorw("unlock ledger", "error", err)
		}
	}()

	// another process may have frozen the directory before we held the lock
	if _, err := os.Stat(l.RecordPath()); err == nil {
		return nil, ErrAlreadyFrozen
	}

	sum, err := ContentHash(t, l.alg)
	if err != nil {
		return nil, xerrors.Errorf("hash dataset: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cols := append([]string(nil), t.Columns...)
	sort.Strings(cols)
	rec := &FreezeRecord{
		ContentHash:     sum,
		HashAlgorithm:   l.alg,
		CommitReference: commitReference,
		Dataset:         t.Name,
		RowCount:        t.RowCount(),
		ColumnCount:     t.ColumnCount(),
		Columns:         cols,
		SchemaVersion:   SchemaVersion,
		CreatedAt:       l.clock.Now().UTC(),
	}
	if err := writeRecord(l.RecordPath(), rec); err != nil {
		return nil, err
	}
	if span.IsRecording() {
		span.SetAttributes(attribute.String("hash", sum), attribute.Int("rows", rec.RowCount))
	}

	l.record = rec
	l.state = StateFrozen
	l.frozenHere = true
	log.Infow("froze dataset", "dataset", t.Name, "hash", sum, "algorithm", l.alg, "rows", rec.RowCount, "columns", rec.ColumnCount)
	return rec, nil
}

// Validate recomputes the hash of t and compares it with the freeze record. A mismatch moves the
// ledger to the mismatched state and returns a HashMismatchError; nothing is repaired.
func (l *Ledger) Validate(ctx context.Context, t *Table) error {
	_, span := otel.Tracer("").Start(ctx, "Ledger.Validate")
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.record == nil {
		return ErrNotFrozen
	}

	sum, err := ContentHash(t, l.record.HashAlgorithm)
	if err != nil {
		return xerrors.Errorf("hash dataset: %w", err)
	}
	if sum != l.record.ContentHash {
		l.state = StateMismatched
		log.Errorw("dataset hash mismatch", "dataset", t.Name, "expected", l.record.ContentHash, "actual", sum)
		return &HashMismatchError{Subject: "dataset " + t.Name, Expected: l.record.ContentHash, Actual: sum}
	}

	l.state = StateValidated
	log.Infow("validated dataset", "dataset", t.Name, "hash", sum)
	return nil
}

// Authorize returns the freeze record once the dataset has been validated, or frozen, in this run.
func (l *Ledger) Authorize() (*FreezeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.state == StateValidated:
	case l.state == StateFrozen && l.frozenHere:
	case l.state == StateMismatched:
		return nil, xerrors.Errorf("dataset hash mismatch: %w", ErrNotAuthorized)
	default:
		return nil, ErrNotAuthorized
	}
	rec := *l.record
	return &rec, nil
}

// VerifyStamps checks that every dataset hash carried by an artifact matches rec.
func VerifyStamps(rec *FreezeRecord, name string, artifact model.Stamped) error {
	for _, h := range artifact.DatasetHashes() {
		if h != rec.ContentHash {
			return &HashMismatchError{Subject: name, Expected: rec.ContentHash, Actual: h}
		}
	}
	return nil
}
