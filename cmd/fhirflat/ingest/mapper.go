package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// RowMapper applies one mapping table to source rows, producing flat
// records keyed by target dotted paths.
type RowMapper struct {
	table  *Table
	format string
	loc    *time.Location
	log    zerolog.Logger
}

func NewRowMapper(table *Table, dateFormat, timezone string, log zerolog.Logger) (*RowMapper, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", timezone, err)
	}
	return &RowMapper{table: table, format: dateFormat, loc: loc, log: log}, nil
}

// MapRow maps one wide source row (one row per output record) to a flat
// record. Columns without a matching rule for their response are skipped
// with a warning; snippets merge with list promotion on repeated keys.
func (m *RowMapper) MapRow(row map[string]any) map[string]any {
	result := map[string]any{}
	for _, column := range m.table.Variables() {
		response, ok := row[column]
		if !ok || isNull(response) {
			continue
		}
		snippet := m.mapResponse(column, response, func(col string) (any, bool) {
			v, ok := row[col]
			return v, ok
		})
		if snippet == nil {
			continue
		}
		m.merge(result, snippet)
	}
	return result
}

// MapCell maps one melted (column, value) cell to a flat record snippet
// for long-format sources, where each cell yields its own output record.
// Other source columns are reached through raw, which falls back to the
// original unmelted table. Returns nil when the cell is empty or unmapped.
func (m *RowMapper) MapCell(column string, response any, raw func(col string) (any, bool)) map[string]any {
	if isNull(response) {
		return nil
	}
	return m.mapResponse(column, response, raw)
}

func (m *RowMapper) mapResponse(column string, response any, lookup func(col string) (any, bool)) map[string]any {
	targets, ok := m.table.Lookup(column, response)
	if !ok {
		m.log.Warn().
			Str("column", column).
			Str("response", NormalizeResponse(response)).
			Msg("No mapping rule for response")
		return nil
	}

	snippet := map[string]any{}
	for _, path := range m.table.Targets() {
		tmpl, ok := targets[path]
		if !ok {
			continue
		}
		var value any = tmpl
		if strings.Contains(tmpl, "<") {
			value = m.resolve(tmpl, response, lookup)
		}
		if dateColumn(path) {
			if s, ok := value.(string); ok && s != "" {
				norm, parsed := NormalizeDate(s, m.format, m.loc)
				if !parsed {
					m.log.Warn().
						Str("path", path).
						Str("value", s).
						Msg("Failed to parse date, passing through raw value")
				}
				value = norm
			}
		}
		snippet[path] = value
	}
	return snippet
}

// resolve evaluates a value template. "<FIELD>" is the raw response,
// "<col>" another source column, "a+b" concatenation and "a if not b"
// conditional suppression.
func (m *RowMapper) resolve(tmpl string, response any, lookup func(col string) (any, bool)) any {
	tmpl = strings.TrimSpace(tmpl)
	if tmpl == "<FIELD>" {
		return response
	}
	if a, b, found := strings.Cut(tmpl, " if not "); found {
		cond := m.resolve(b, response, lookup)
		if isNull(cond) || cond == false || cond == "0" {
			return m.resolve(a, response, lookup)
		}
		return nil
	}
	if strings.Contains(tmpl, "+") {
		parts := strings.Split(tmpl, "+")
		resolved := make([]string, 0, len(parts))
		slashed := false
		for _, p := range parts {
			v := m.resolve(p, response, lookup)
			if isNull(v) {
				continue
			}
			s := fmt.Sprint(v)
			if strings.Contains(s, "/") {
				slashed = true
			}
			resolved = append(resolved, s)
		}
		// Slash-delimited composites are identifiers, not prose.
		if slashed {
			return strings.Join(resolved, "")
		}
		return strings.Join(resolved, " ")
	}
	if strings.HasPrefix(tmpl, "<") && strings.HasSuffix(tmpl, ">") {
		col := strings.TrimSuffix(strings.TrimPrefix(tmpl, "<"), ">")
		if v, ok := lookup(col); ok {
			return v
		}
		m.log.Warn().Str("column", col).Msg("Referenced source column not found")
		return nil
	}
	return tmpl
}

// merge folds a snippet into the accumulating result. Equal values
// collapse and nil gives way; a genuine conflict promotes the whole
// dotted-key group to lists at once, so every column in the group gains
// exactly one new index and positional alignment survives densification.
func (m *RowMapper) merge(result, snippet map[string]any) {
	conflicts := make(map[string]bool)
	for k, v := range snippet {
		existing, collision := result[k]
		if collision && !isNull(existing) && !isNull(v) && fmt.Sprint(existing) != fmt.Sprint(v) {
			conflicts[groupOf(k)] = true
		}
	}
	for k, v := range snippet {
		if conflicts[groupOf(k)] {
			continue
		}
		if existing, collision := result[k]; collision && !isNull(existing) {
			continue
		}
		result[k] = v
	}
	for group := range conflicts {
		promoteGroup(result, snippet, group)
	}
}

// promoteGroup appends one index to every column of a conflicting group,
// padding columns absent from either side with nils.
func promoteGroup(result, snippet map[string]any, group string) {
	keys := make(map[string]bool)
	for k := range result {
		if groupOf(k) == group {
			keys[k] = true
		}
	}
	for k := range snippet {
		if groupOf(k) == group {
			keys[k] = true
		}
	}
	n := 1
	for k := range keys {
		if list, ok := result[k].([]any); ok && len(list) > n {
			n = len(list)
		}
	}
	for k := range keys {
		list, ok := result[k].([]any)
		if !ok {
			if existing, present := result[k]; present {
				list = []any{existing}
			}
		}
		for len(list) < n {
			list = append(list, nil)
		}
		result[k] = append(list, snippet[k])
	}
}

func groupOf(key string) string {
	return strings.SplitN(key, ".", 2)[0]
}

func isNull(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case float64:
		return t != t // NaN from numeric readers
	}
	return false
}
