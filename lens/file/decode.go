package file

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/lens"
	"github.com/l2-l1-causal-impact/bridge/provenance"
	"github.com/l2-l1-causal-impact/bridge/storage"
)

var timeType = reflect.TypeOf(time.Time{})

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

// A schema is the ordered, typed column list of a model plus the handling of columns outside it.
type schema struct {
	table storage.Table
	// optional columns may be absent from the input, missing fills them in
	optional map[string]bool
	missing  func(row int, elem reflect.Value, column string)
	// extra receives cells of columns not in the table. Without it such columns are violations.
	extra func(row int, elem reflect.Value, column, cell string, v *lens.Validation)
}

func newSchema(model interface{}) *schema {
	return &schema{
		table:    storage.ModelTable(model, storage.LatestSchemaVersion()),
		optional: map[string]bool{},
	}
}

// decodeCSV reads r into out, a pointer to a slice of struct pointers, checking the header against
// the schema and every cell against its column type. All violations are reported together. The
// cells as read are returned in a table for hashing.
func decodeCSV(input string, r io.Reader, s *schema, out interface{}) (*provenance.Table, error) {
	v := lens.NewValidation(input)

	slice := reflect.ValueOf(out).Elem()
	elemType := slice.Type().Elem().Elem()

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		v.Add(0, "", "input is empty")
		return nil, v.Err()
	}
	if err != nil {
		return nil, xerrors.Errorf("read %s header: %w", input, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := index[h]; dup {
			v.Add(0, h, "duplicate column")
			continue
		}
		index[h] = i
	}

	// columns are matched by name, in any order
	known := make(map[string]bool, len(s.table.Columns))
	for _, col := range s.table.Columns {
		known[col] = true
		if _, ok := index[col]; !ok && !s.optional[col] {
			v.Add(0, col, "missing required column")
		}
	}

	var extras []int
	for i, h := range header {
		if known[h] {
			continue
		}
		if s.extra == nil {
			v.Add(0, h, "unexpected column")
			continue
		}
		extras = append(extras, i)
	}

	raw := &provenance.Table{Name: s.table.Name, Columns: header}
	row := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			v.Add(row, "", "malformed csv: %v", err)
			break
		}
		if len(rec) != len(header) {
			v.Add(row, "", "has %d cells, want %d", len(rec), len(header))
			continue
		}
		raw.Rows = append(raw.Rows, rec)

		elem := reflect.New(elemType)
		for i, col := range s.table.Columns {
			pos, ok := index[col]
			if !ok {
				if s.missing != nil {
					s.missing(row, elem.Elem(), col)
				}
				continue
			}
			if err := setField(elem.Elem().FieldByName(s.table.Fields[i]), s.table.Types[i], rec[pos]); err != nil {
				v.Add(row, col, "%v", err)
			}
		}
		for _, i := range extras {
			s.extra(row, elem.Elem(), header[i], rec[i], v)
		}
		slice.Set(reflect.Append(slice, elem))
	}

	if err := v.Err(); err != nil {
		return nil, err
	}
	return raw, nil
}

func isNull(cell string) bool {
	return cell == "" || cell == "NULL" || strings.EqualFold(cell, "nan")
}

func setField(fv reflect.Value, sqlType string, cell string) error {
	cell = strings.TrimSpace(cell)

	if fv.Kind() == reflect.Ptr {
		if isNull(cell) {
			fv.Set(reflect.Zero(fv.Type()))
			return nil
		}
		nv := reflect.New(fv.Type().Elem())
		if err := setField(nv.Elem(), sqlType, cell); err != nil {
			return err
		}
		fv.Set(nv)
		return nil
	}

	if fv.Type() == timeType {
		t, err := parseTime(cell, sqlType == "date")
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(t))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		if sqlType == "numeric" {
			if err := checkDecimal(cell); err != nil {
				return err
			}
		}
		fv.SetString(cell)
	case reflect.Int, reflect.Int64, reflect.Int32:
		n, err := strconv.ParseInt(cell, 10, 64)
		if err != nil {
			return xerrors.Errorf("not an integer: %q", cell)
		}
		fv.SetInt(n)
	case reflect.Uint, reflect.Uint64, reflect.Uint32:
		n, err := strconv.ParseUint(cell, 10, 64)
		if err != nil {
			return xerrors.Errorf("not a non-negative integer: %q", cell)
		}
		fv.SetUint(n)
	case reflect.Float64, reflect.Float32:
		f, err := parseFloat(cell)
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(cell)
		if err != nil {
			return xerrors.Errorf("not a boolean: %q", cell)
		}
		fv.SetBool(b)
	case reflect.Slice, reflect.Map, reflect.Interface:
		if cell == "null" || cell == "NULL" || cell == "" {
			fv.Set(reflect.Zero(fv.Type()))
			return nil
		}
		if err := json.Unmarshal([]byte(cell), fv.Addr().Interface()); err != nil {
			return xerrors.Errorf("invalid json: %w", err)
		}
	default:
		return xerrors.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}

// checkDecimal accepts non-negative integers and fixed point decimals.
func checkDecimal(cell string) error {
	if cell == "" || strings.Contains(cell, "/") {
		return xerrors.Errorf("not a decimal number: %q", cell)
	}
	r, ok := new(big.Rat).SetString(cell)
	if !ok {
		return xerrors.Errorf("not a decimal number: %q", cell)
	}
	if r.Sign() < 0 {
		return xerrors.Errorf("negative value: %s", cell)
	}
	return nil
}

func parseFloat(cell string) (float64, error) {
	f, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, xerrors.Errorf("not a number: %q", cell)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, xerrors.Errorf("not a finite number: %q", cell)
	}
	return f, nil
}

func parseTime(cell string, dateOnly bool) (time.Time, error) {
	if dateOnly {
		if t, err := time.Parse(storage.DateFormat, cell); err == nil {
			return t, nil
		}
	}
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, cell)
		if err != nil {
			continue
		}
		t = t.UTC()
		if dateOnly {
			y, m, d := t.Date()
			if !t.Equal(time.Date(y, m, d, 0, 0, 0, 0, time.UTC)) {
				return time.Time{}, xerrors.Errorf("not a calendar date: %q", cell)
			}
		}
		return t, nil
	}
	if secs, err := strconv.ParseInt(cell, 10, 64); err == nil && !dateOnly {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, xerrors.Errorf("not a timestamp: %q", cell)
}
