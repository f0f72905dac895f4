// Package datasource reads tabular clinical data from CSV exports or
// directly from a SQL database.
package datasource

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/globaldothealth/fhirflat/util"
)

// Rows is one loaded source table: records plus the column order the
// source declared, which drives deterministic mapping output.
type Rows struct {
	Columns []string
	Records []map[string]any
}

// DataSourceService handles database operations and query management.
type DataSourceService struct {
	db      *sqlx.DB
	queries map[string]string // resource kind -> query
	log     zerolog.Logger
}

func NewDataSourceService(db *sqlx.DB, log zerolog.Logger) *DataSourceService {
	return &DataSourceService{
		db:      db,
		queries: make(map[string]string),
		log:     log,
	}
}

// LoadQueryFile loads a single query file. The resource kind comes from
// the filename, e.g. "patient_source.sql" -> "Patient".
func (svc *DataSourceService) LoadQueryFile(filePath string) error {
	kind := strings.TrimSuffix(
		util.TitleCase(strings.Split(filepath.Base(filePath), "_")[0]),
		filepath.Ext(filePath),
	)

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open query file %s: %w", filePath, err)
	}
	defer file.Close()

	query, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read query file %s: %w", filePath, err)
	}

	svc.queries[kind] = string(query)
	svc.log.Debug().
		Str("resourceKind", kind).
		Str("file", filePath).
		Msg("Loaded query file")

	return nil
}

// LoadQueryDirectory loads all SQL files from a directory.
func (svc *DataSourceService) LoadQueryDirectory(dirPath string) error {
	files, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to read query directory %s: %w", dirPath, err)
	}

	var loadErrors []error
	loaded := 0

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}

		filePath := filepath.Join(dirPath, file.Name())
		if err := svc.LoadQueryFile(filePath); err != nil {
			loadErrors = append(loadErrors, err)
			svc.log.Error().Err(err).
				Str("file", file.Name()).
				Msg("Failed to load query file")
			continue
		}
		loaded++
	}

	svc.log.Info().
		Int("total_files", len(files)).
		Int("loaded", loaded).
		Int("errors", len(loadErrors)).
		Str("directory", dirPath).
		Msg("Completed loading query files")

	if len(loadErrors) > 0 {
		return fmt.Errorf("encountered %d errors while loading query files", len(loadErrors))
	}

	return nil
}

// ReadSource runs the loaded query for a resource kind and returns the
// result set as generic records.
func (svc *DataSourceService) ReadSource(ctx context.Context, kind string) (*Rows, error) {
	query, exists := svc.queries[kind]
	if !exists {
		return nil, fmt.Errorf("no query found for resource kind: %s", kind)
	}

	sqlRows, err := svc.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query for %s: %w", kind, err)
	}
	defer sqlRows.Close()

	columns, err := sqlRows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns for %s: %w", kind, err)
	}

	rows := &Rows{Columns: columns}
	for sqlRows.Next() {
		record := map[string]any{}
		if err := sqlRows.MapScan(record); err != nil {
			return nil, fmt.Errorf("failed to scan row for %s: %w", kind, err)
		}
		for k, v := range record {
			if b, ok := v.([]byte); ok {
				record[k] = string(b)
			}
		}
		rows.Records = append(rows.Records, record)
	}
	if err := sqlRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows for %s: %w", kind, err)
	}

	svc.log.Debug().
		Str("resourceKind", kind).
		Int("rows", len(rows.Records)).
		Msg("Read source rows from database")

	return rows, nil
}

// ReadCSV loads a CSV export with a header row. Empty cells become nil so
// later stages can treat them as missing responses.
func ReadCSV(path string) (*Rows, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file %s: %w", path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}

	rows := &Rows{Columns: header}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row of %s: %w", path, err)
		}
		record := make(map[string]any, len(header))
		for i, col := range header {
			if i >= len(rec) || strings.TrimSpace(rec[i]) == "" {
				record[col] = nil
				continue
			}
			record[col] = rec[i]
		}
		rows.Records = append(rows.Records, record)
	}
	return rows, nil
}

// Melt turns a wide table into long format: one (index, column, value)
// record per original cell, covering only the given columns.
func Melt(rows *Rows, columns []string) *Rows {
	keep := make(map[string]bool, len(columns))
	for _, c := range columns {
		keep[c] = true
	}

	out := &Rows{Columns: []string{"index", "column", "value"}}
	for i, record := range rows.Records {
		for _, col := range rows.Columns {
			if !keep[col] {
				continue
			}
			out.Records = append(out.Records, map[string]any{
				"index":  i,
				"column": col,
				"value":  record[col],
			})
		}
	}
	return out
}
