package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/globaldothealth/fhirflat/cmd/fhirflat/api"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/config"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/datasource"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/densify"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/expand"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/flatten"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/ingest"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/output"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/processor"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/schema"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/validation"
	"github.com/globaldothealth/fhirflat/util"
)

// Resource kinds mapping one source row to one output record; everything
// else is mapped cell by cell.
var oneToOneKinds = map[string]bool{
	"patient":   true,
	"encounter": true,
}

func main() {
	startTime := time.Now()
	log := zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) { w.Out = os.Stdout })).With().Timestamp().Caller().Logger()
	log.Debug().Msg("Starting fhirflat")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(errors.WithStack(err)).Msg("Failed to load configuration")
	}

	reg := schema.Default()
	exp := expand.NewExpander(log)
	den := densify.NewDensifier(exp, log)
	gate := validation.NewGate(reg, den, exp, log)
	flattener := flatten.NewFlattener(log)

	if len(os.Args) < 2 {
		log.Fatal().Msg("Usage: fhirflat <convert data.csv | serve>")
	}

	switch os.Args[1] {
	case "serve":
		server := api.NewServer(gate, flattener, log)
		log.Info().Str("addr", cfg.ListenAddr).Msg("Listening")
		if err := http.ListenAndServe(cfg.ListenAddr, server.Handler()); err != nil {
			log.Fatal().Err(errors.WithStack(err)).Msg("Server stopped")
		}
	case "convert":
		if err := runConvert(cfg, gate, flattener, log); err != nil {
			log.Fatal().Err(errors.WithStack(err)).Msg("Conversion failed")
		}
	default:
		log.Fatal().Str("command", os.Args[1]).Msg("Unknown command")
	}

	log.Debug().Msgf("Execution time: %s", time.Since(startTime))
}

func runConvert(cfg *config.Config, gate *validation.Gate, flattener *flatten.Flattener, log zerolog.Logger) error {
	om, err := output.NewOutputManager(cfg.OutputDir, log)
	if err != nil {
		return err
	}
	log = om.Logger()

	var store *output.ErrorStore
	if cfg.DatabaseDSN != "" {
		store, err = output.NewErrorStore(cfg.DatabaseDSN, log)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	tables, err := loadTables(util.GetAbsolutePath(cfg.MappingDir))
	if err != nil {
		return err
	}

	tasks, err := buildTasks(cfg, tables, log)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return fmt.Errorf("no conversion tasks found: check %s for mapping tables", cfg.MappingDir)
	}

	proc := processor.NewProcessor(gate, flattener, om, store,
		cfg.DateFormat, cfg.Timezone, cfg.Workers, log)

	results := proc.Run(context.Background(), tasks)

	var files []string
	failed := 0
	rows := 0
	for _, r := range results {
		if r.Err != nil {
			log.Error().Err(r.Err).Str("resourceKind", r.Kind).Msg("Conversion task failed")
			failed++
			continue
		}
		rows += r.Converted
		if r.OutputFile != "" {
			files = append(files, r.OutputFile)
		}
	}
	if err := om.WriteMetadata(files, rows); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d conversion tasks failed", failed, len(results))
	}
	return nil
}

// loadTables reads every mapping table in the directory, keyed by the
// resource kind the filename names, e.g. "encounter.csv" -> "encounter".
func loadTables(dir string) (map[string]*ingest.Table, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping directory %s: %w", dir, err)
	}

	tables := map[string]*ingest.Table{}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(strings.ToLower(f.Name()), ".csv") {
			continue
		}
		kind := strings.ToLower(strings.TrimSuffix(f.Name(), filepath.Ext(f.Name())))
		table, err := ingest.LoadTable(filepath.Join(dir, f.Name()))
		if err != nil {
			return nil, err
		}
		tables[kind] = table
	}
	return tables, nil
}

// buildTasks pairs each mapping table with its source rows, either from a
// CSV file named on the command line or from the configured database.
func buildTasks(cfg *config.Config, tables map[string]*ingest.Table, log zerolog.Logger) ([]processor.Task, error) {
	var rowsFor func(kind string) (*datasource.Rows, error)

	if len(os.Args) > 2 {
		rows, err := datasource.ReadCSV(os.Args[2])
		if err != nil {
			return nil, err
		}
		rowsFor = func(string) (*datasource.Rows, error) { return rows, nil }
	} else if cfg.DatabaseDSN != "" && cfg.QueryDir != "" {
		db, err := sqlx.Connect("postgres", cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to the database: %w", err)
		}
		svc := datasource.NewDataSourceService(db, log)
		if err := svc.LoadQueryDirectory(cfg.QueryDir); err != nil {
			return nil, err
		}
		rowsFor = func(kind string) (*datasource.Rows, error) {
			return svc.ReadSource(context.Background(), util.TitleCase(kind))
		}
	} else {
		return nil, fmt.Errorf("no data source: pass a CSV file or set FHIRFLAT_DB_DSN and FHIRFLAT_QUERY_DIR")
	}

	var tasks []processor.Task
	for kind, table := range tables {
		rows, err := rowsFor(kind)
		if err != nil {
			return nil, err
		}
		mode := processor.OneToMany
		if oneToOneKinds[kind] {
			mode = processor.OneToOne
		}
		tasks = append(tasks, processor.Task{
			Kind:  kind,
			Mode:  mode,
			Rows:  rows,
			Table: table,
		})
	}
	return tasks, nil
}
