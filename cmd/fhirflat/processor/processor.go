// Package processor drives the conversion pipeline: mapping table load,
// row mapping, densification, expansion, validation and output, one
// independent pipeline per resource kind.
package processor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/globaldothealth/fhirflat/cmd/fhirflat/datasource"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/flatten"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/ingest"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/output"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/validation"
)

// Mode selects how source rows map to output records.
type Mode int

const (
	// OneToOne produces one record per subject: Patient, Encounter.
	OneToOne Mode = iota
	// OneToMany produces one record per source cell: Observation, Condition.
	OneToMany
)

// Task is one resource kind's conversion: its source rows, mapping table
// and mode. Tasks are fully independent of each other.
type Task struct {
	Kind          string
	Mode          Mode
	SubjectColumn string
	Rows          *datasource.Rows
	Table         *ingest.Table
}

// TaskResult summarizes one finished conversion.
type TaskResult struct {
	Kind       string
	OutputFile string
	Converted  int
	Rejected   int
	Err        error
}

// Processor runs conversion tasks against a shared read-only schema and
// writes results through the output manager.
type Processor struct {
	gate       *validation.Gate
	flattener  *flatten.Flattener
	om         *output.OutputManager
	store      *output.ErrorStore // optional
	dateFormat string
	timezone   string
	workers    int
	log        zerolog.Logger
}

func NewProcessor(gate *validation.Gate, flattener *flatten.Flattener, om *output.OutputManager,
	store *output.ErrorStore, dateFormat, timezone string, workers int, log zerolog.Logger) *Processor {
	if workers < 1 {
		workers = 1
	}
	return &Processor{
		gate:       gate,
		flattener:  flattener,
		om:         om,
		store:      store,
		dateFormat: dateFormat,
		timezone:   timezone,
		workers:    workers,
		log:        log,
	}
}

// Run fans tasks out across the worker pool. Each worker owns its whole
// pipeline for a task, so no state is shared beyond the read-only schema
// and mapping tables. Results come back in completion order. Every task
// produces a result; a batch already written must not be abandoned
// halfway, so cancellation does not stop the feed.
func (p *Processor) Run(ctx context.Context, tasks []Task) []TaskResult {
	jobs := make(chan Task)
	results := make(chan TaskResult)

	for i := 0; i < p.workers; i++ {
		go func() {
			for task := range jobs {
				results <- p.Process(ctx, task)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, t := range tasks {
			jobs <- t
		}
	}()

	out := make([]TaskResult, 0, len(tasks))
	for range tasks {
		out = append(out, <-results)
	}
	return out
}

// Process converts one resource kind end to end. Rows that fail
// validation land in the error side-channel and processing continues.
func (p *Processor) Process(ctx context.Context, task Task) TaskResult {
	result := TaskResult{Kind: task.Kind}

	mapper, err := ingest.NewRowMapper(task.Table, p.dateFormat, p.timezone, p.log)
	if err != nil {
		result.Err = err
		return result
	}

	var flats []map[string]any
	switch task.Mode {
	case OneToOne:
		flats, err = p.mapWide(task, mapper)
	case OneToMany:
		flats = p.mapLong(task, mapper)
	default:
		err = fmt.Errorf("unknown mapping mode %d", task.Mode)
	}
	if err != nil {
		result.Err = err
		return result
	}

	var converted []map[string]any
	var rejected []map[string]any
	var causes []error

	for _, flat := range flats {
		nested, err := p.gate.Assemble(task.Kind, flat)
		if err != nil {
			p.log.Warn().Err(err).
				Str("resourceKind", task.Kind).
				Msg("Row failed validation")
			rejected = append(rejected, flat)
			causes = append(causes, err)
			if p.store != nil {
				if serr := p.store.Save(p.om.BatchID(), task.Kind, flat, err); serr != nil {
					p.log.Error().Err(serr).Msg("Failed to persist validation failure")
				}
			}
			continue
		}

		res, err := p.gate.ResourceOf(task.Kind)
		if err != nil {
			result.Err = err
			return result
		}
		reflattened, err := p.flattener.FlattenResource(res, nested)
		if err != nil {
			result.Err = err
			return result
		}
		converted = append(converted, flatten.FormatFlat(res, reflattened))
	}

	if len(converted) > 0 {
		file, err := p.om.WriteFlatCSV(task.Kind, converted)
		if err != nil {
			result.Err = err
			return result
		}
		result.OutputFile = file
	}
	if len(rejected) > 0 {
		if _, err := p.om.WriteErrors(task.Kind, rejected, causes); err != nil {
			result.Err = err
			return result
		}
	}

	result.Converted = len(converted)
	result.Rejected = len(rejected)

	p.log.Info().
		Str("resourceKind", task.Kind).
		Int("converted", result.Converted).
		Int("rejected", result.Rejected).
		Msg("Finished conversion task")

	return result
}

func (p *Processor) mapWide(task Task, mapper *ingest.RowMapper) ([]map[string]any, error) {
	subject := task.SubjectColumn
	if subject == "" && len(task.Rows.Columns) > 0 {
		subject = task.Rows.Columns[0]
	}
	condensed, err := ingest.CondenseBySubject(task.Rows.Records, subject)
	if err != nil {
		return nil, err
	}

	flats := make([]map[string]any, 0, len(condensed))
	for _, row := range condensed {
		flats = append(flats, mapper.MapRow(row))
	}
	return flats, nil
}

func (p *Processor) mapLong(task Task, mapper *ingest.RowMapper) []map[string]any {
	melted := datasource.Melt(task.Rows, task.Table.Variables())

	var flats []map[string]any
	for _, cell := range melted.Records {
		column := cell["column"].(string)
		index := cell["index"].(int)
		flat := mapper.MapCell(column, cell["value"], func(col string) (any, bool) {
			if index < len(task.Rows.Records) {
				v, ok := task.Rows.Records[index][col]
				return v, ok
			}
			return nil, false
		})
		if len(flat) == 0 {
			continue
		}
		flats = append(flats, flat)
	}
	return flats
}
