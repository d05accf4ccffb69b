package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-pg/pg/v10/orm"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/metrics"
	"github.com/l2-l1-causal-impact/bridge/model"
)

const (
	PostgresTimestampFormat = "2006-01-02T15:04:05.999Z07:00"
	DateFormat              = "2006-01-02"
)

var (
	// Cache of model schemas for csv storage
	csvModelTablesMu sync.Mutex
	csvModelTables   = map[tableWithVersion]Table{}
)

type tableWithVersion struct {
	name    string
	version model.Version
}

// A Table is the ordered list of columns of a model and the corresponding field names and sql
// types of the Go struct.
type Table struct {
	Name    string
	Columns []string
	Fields  []string
	Types   []string
}

// Note that we need the schema version here since models may declare a table name that is the same across
// all versions of the schema. We use the schema version to qualify the table definition that we cache.
func ModelTable(v interface{}, version model.Version) Table {
	q := orm.NewQuery(nil, v)
	tm := q.TableModel()
	m := tm.Table()
	name := stripQuotes(string(m.SQLNameForSelects))

	csvModelTablesMu.Lock()
	defer csvModelTablesMu.Unlock()

	nv := tableWithVersion{
		name:    name,
		version: version,
	}

	t, ok := csvModelTables[nv]
	if ok {
		return t
	}

	t.Name = name
	for _, fld := range m.Fields {
		t.Columns = append(t.Columns, fld.SQLName)
		t.Fields = append(t.Fields, fld.GoName)
		t.Types = append(t.Types, fld.SQLType)
	}
	csvModelTables[nv] = t

	return t
}

func modelTableByName(name string, version model.Version) (Table, bool) {
	csvModelTablesMu.Lock()
	defer csvModelTablesMu.Unlock()

	t, ok := csvModelTables[tableWithVersion{name: name, version: version}]
	return t, ok
}

type CSVStorage struct {
	path    string
	version model.Version // schema version
	opts    CSVStorageOptions
}

var _ model.Storage = (*CSVStorage)(nil)

type CSVStorageOptions struct {
	OmitHeader  bool
	FilePattern string
	// Exclusive refuses to write a table whose file already exists, unless the table is listed
	// in AppendTables.
	Exclusive    bool
	AppendTables []string
}

func DefaultCSVStorageOptions() CSVStorageOptions {
	return CSVStorageOptions{
		OmitHeader:  false,
		FilePattern: DefaultFilePattern,
	}
}

// ArtifactCSVStorageOptions writes each artifact table once and appends to history tables.
func ArtifactCSVStorageOptions() CSVStorageOptions {
	return CSVStorageOptions{
		FilePattern:  DefaultFilePattern,
		Exclusive:    true,
		AppendTables: AppendOnlyTables,
	}
}

const (
	FilePatternTokenTable = "{table}"

	DefaultFilePattern = FilePatternTokenTable + ".csv"
)

func NewCSVStorage(path string, version model.Version, opts CSVStorageOptions) (*CSVStorage, error) {
	// Ensure we always have a file pattern
	if opts.FilePattern == "" {
		opts.FilePattern = DefaultFilePattern
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, xerrors.Errorf("create csv directory: %w", err)
	}

	return &CSVStorage{
		path:    path,
		version: version,
		opts:    opts,
	}, nil
}

func NewCSVStorageLatest(path string, opts CSVStorageOptions) (*CSVStorage, error) {
	return NewCSVStorage(path, LatestSchemaVersion(), opts)
}

// Filename returns the path of the file the named table is written to.
func (c *CSVStorage) Filename(table string) string {
	r := strings.NewReplacer(FilePatternTokenTable, table)
	return filepath.Join(c.path, r.Replace(c.opts.FilePattern))
}

func (c *CSVStorage) appendable(table string) bool {
	if !c.opts.Exclusive {
		return true
	}
	for _, t := range c.opts.AppendTables {
		if t == table {
			return true
		}
	}
	return false
}

// PersistBatch persists a batch of models to CSV, creating new files if they don't already exist otherwise appending
// to existing ones.
func (c *CSVStorage) PersistBatch(ctx context.Context, ps ...model.Persistable) error {
	batch := &CSVBatch{
		data:    map[string][][]string{},
		version: c.version,
	}

	for _, p := range ps {
		if err := p.Persist(ctx, batch, c.version); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(batch.data))
	for name := range batch.data {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rows := batch.data[name]
		if len(rows) == 0 {
			continue
		}
		t, ok := modelTableByName(name, c.version)
		if !ok {
			log.Errorf("unknown table name: %s", name)
			continue
		}
		if err := c.writeTable(t, rows); err != nil {
			metrics.RecordInc(metrics.WithTagValue(ctx, metrics.Table, t.Name), metrics.PersistFailure)
			return err
		}
	}

	return nil
}

func (c *CSVStorage) writeTable(t Table, rows [][]string) error {
	filename := c.Filename(t.Name)
	var w *csv.Writer

	// Try to create the file
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err == nil {
		// Created file successfully
		defer f.Close() // nolint: errcheck

		w = csv.NewWriter(f)
		if !c.opts.OmitHeader {
			// Write the headers
			if err := w.Write(t.Columns); err != nil {
				return xerrors.Errorf("write csv headers %q: %w", filename, err)
			}
		}
	} else {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) || !os.IsExist(pathErr) {
			return fmt.Errorf("create file %q: %w", filename, err)
		}
		if !c.appendable(t.Name) {
			return xerrors.Errorf("%s: %w", filename, ErrFileExists)
		}

		// File exists, attempt to append
		f, err = os.OpenFile(filename, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open file %q: %w", filename, err)
		}
		defer f.Close() // nolint: errcheck
		w = csv.NewWriter(f)
	}

	if err := w.WriteAll(rows); err != nil {
		return xerrors.Errorf("write csv data %q: %w", filename, err)
	}

	w.Flush()
	if err := f.Sync(); err != nil {
		log.Errorw("failed to sync csv file", "error", err, "filename", filename)
	}
	log.Debugw("wrote csv table", "table", t.Name, "rows", len(rows), "filename", filename)
	return nil
}

// ModelHeaders returns the column headers used for csv output of the type of model held in v
func (c *CSVStorage) ModelHeaders(v interface{}) ([]string, error) {
	t := ModelTable(v, c.version)

	return t.Columns, nil
}

type CSVBatch struct {
	data    map[string][][]string
	version model.Version // schema version used when persisting the batch
}

func (c *CSVBatch) PersistModel(ctx context.Context, m interface{}) error {
	value := reflect.ValueOf(m)
	if value.Kind() == reflect.Ptr {
		value = value.Elem()
	}

	switch value.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < value.Len(); i++ {
			if err := c.PersistModel(ctx, value.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
		// Get the table for this type
		t := ModelTable(m, c.version)

		row, err := MarshalRow(t, value)
		if err != nil {
			return xerrors.Errorf("marshal %s: %w", t.Name, err)
		}
		c.data[t.Name] = append(c.data[t.Name], row)
		return nil
	default:
		return ErrMarshalUnsupportedType
	}
}

// MarshalRow formats the fields of the struct held in value as the cells of one csv row.
func MarshalRow(t Table, value reflect.Value) ([]string, error) {
	row := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		fv := value.FieldByName(f)
		fk := fv.Kind()
		if (fk == reflect.Slice || fk == reflect.Map || fk == reflect.Ptr || fk == reflect.Chan || fk == reflect.Func || fk == reflect.Interface) && fv.IsNil() {
			switch t.Types[i] {
			case "json", "jsonb":
				row[i] = "null" // this is a json value of null
			default:
				row[i] = "NULL"
			}
			continue
		}
		if fk == reflect.Ptr {
			fv = fv.Elem()
			fk = fv.Kind()
		}

		ft := fv.Type()

		// Special formatting for known types
		if ft.PkgPath() == "time" && ft.Name() == "Time" {
			v := fv.Interface().(time.Time)
			if t.Types[i] == "date" {
				row[i] = v.UTC().Format(DateFormat)
			} else {
				row[i] = v.UTC().Format(PostgresTimestampFormat)
			}
			continue
		}

		var encodeAsJSON bool

		// Strings marked as json type are assumed to already be encoded
		if fk != reflect.String && (t.Types[i] == "json" || t.Types[i] == "jsonb") {
			encodeAsJSON = true
		} else if fk == reflect.Interface || fk == reflect.Slice || fk == reflect.Map {
			encodeAsJSON = true
		}

		if encodeAsJSON {
			v, err := json.Marshal(fv.Interface())
			if err != nil {
				return nil, err
			}
			row[i] = string(v)
			continue
		}

		switch fk {
		case reflect.Float32, reflect.Float64:
			// shortest representation that parses back to the same value
			row[i] = strconv.FormatFloat(fv.Float(), 'g', -1, 64)
		default:
			row[i] = fmt.Sprint(fv)
		}
	}
	return row, nil
}
