// Package participants maintains the dataset-level participants.tsv table.
package participants

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mrsinham/bidsify/internal/logger"
	"github.com/mrsinham/bidsify/internal/util"
)

// NotAvailable fills cells with no value.
const NotAvailable = "n/a"

// IDColumn is the key column of participants.tsv.
const IDColumn = "participant_id"

var reservedColumns = []string{IDColumn, "age", "sex", "weight"}

// Source supplies header values by DICOM tag name.
type Source interface {
	Lookup(name string) (string, error)
}

// Field is one named cell of a participant row.
type Field struct {
	Column string
	Value  string
}

// ValidateColumns checks that every extra column maps to a known tag and
// does not shadow a built-in column.
func ValidateColumns(extra map[string]string) error {
	for col, name := range extra {
		for _, r := range reservedColumns {
			if col == r {
				return fmt.Errorf("column %q is reserved", col)
			}
		}
		if strings.TrimSpace(col) == "" || strings.ContainsAny(col, "\t\n") {
			return fmt.Errorf("invalid column name %q", col)
		}
		if _, err := util.GetTagByName(name); err != nil {
			return fmt.Errorf("column %q: %w", col, err)
		}
	}
	return nil
}

// Fields derives the participant cells from src: age, sex, weight, then
// the extra columns in name order.
func Fields(src Source, extra map[string]string) ([]Field, error) {
	get := func(name string) (string, error) {
		v, err := src.Lookup(name)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(v), nil
	}

	values := map[string]string{}
	for _, name := range []string{"PatientAge", "PatientBirthDate", "StudyDate", "PatientSex", "PatientWeight"} {
		v, err := get(name)
		if err != nil {
			return nil, err
		}
		values[name] = v
	}

	fields := []Field{
		{Column: "age", Value: Age(values["PatientAge"], values["PatientBirthDate"], values["StudyDate"])},
		{Column: "sex", Value: orNotAvailable(values["PatientSex"])},
		{Column: "weight", Value: orNotAvailable(values["PatientWeight"])},
	}

	cols := make([]string, 0, len(extra))
	for col := range extra {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		v, err := get(extra[col])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		fields = append(fields, Field{Column: col, Value: orNotAvailable(v)})
	}
	return fields, nil
}

func orNotAvailable(v string) string {
	if v == "" {
		return NotAvailable
	}
	return v
}

// Table is an in-memory participants.tsv.
type Table struct {
	Columns []string
	Rows    []map[string]string
}

// ReadTable parses a tab separated participants file. A file without a
// participant_id column gets one.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	t := &Table{}
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		t.Columns = []string{IDColumn}
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	t.Columns = header
	if !t.hasColumn(IDColumn) {
		t.Columns = append([]string{IDColumn}, t.Columns...)
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func (t *Table) hasColumn(col string) bool {
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Merge sets fields on the row of id, creating the row and any missing
// columns. Existing values are kept when the new value is n/a.
func (t *Table) Merge(id string, fields []Field) {
	var row map[string]string
	for _, r := range t.Rows {
		if r[IDColumn] == id {
			row = r
			break
		}
	}
	if row == nil {
		row = map[string]string{IDColumn: id}
		t.Rows = append(t.Rows, row)
	}

	for _, f := range fields {
		if !t.hasColumn(f.Column) {
			t.Columns = append(t.Columns, f.Column)
		}
		current := row[f.Column]
		if f.Value != NotAvailable || current == "" {
			row[f.Column] = f.Value
		}
	}
}

// Write stores the table with rows sorted by participant_id and empty
// cells rendered as n/a.
func (t *Table) Write(path string) error {
	rows := make([]map[string]string, len(t.Rows))
	copy(rows, t.Rows)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i][IDColumn] < rows[j][IDColumn] })

	var b strings.Builder
	w := csv.NewWriter(&b)
	w.Comma = '\t'
	if err := w.Write(t.Columns); err != nil {
		return err
	}
	for _, row := range rows {
		rec := make([]string, len(t.Columns))
		for i, col := range t.Columns {
			rec[i] = orNotAvailable(row[col])
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// Options configures Update.
type Options struct {
	Path    string
	Subject string
	Source  Source
	// Extra maps additional column names to DICOM tag names.
	Extra  map[string]string
	Logger *zerolog.Logger
}

// Update merges the row of sub-<Subject> into the participants file.
func Update(opts Options) error {
	log := logger.OrNop(opts.Logger)
	if err := ValidateColumns(opts.Extra); err != nil {
		return err
	}

	fields, err := Fields(opts.Source, opts.Extra)
	if err != nil {
		return err
	}
	table, err := ReadTable(opts.Path)
	if err != nil {
		return err
	}

	id := "sub-" + strings.TrimPrefix(opts.Subject, "sub-")
	table.Merge(id, fields)
	if err := table.Write(opts.Path); err != nil {
		return fmt.Errorf("write %s: %w", opts.Path, err)
	}

	ev := log.Info().Str("participant_id", id)
	for _, f := range fields {
		ev = ev.Str(f.Column, f.Value)
	}
	ev.Msg("participants updated")
	return nil
}
