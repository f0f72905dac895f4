// Package ingest applies declarative mapping tables to tabular clinical
// data, producing flat records ready for expansion into nested resources.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

// Table is one parsed mapping table for a single resource kind. Each rule
// keys on a source variable and an exact response value (or the wildcard)
// and yields target path templates.
type Table struct {
	Name string

	// variable -> response -> target path -> template. The empty response
	// is the wildcard entry matching any response value.
	rules map[string]map[string]map[string]string

	variables []string // source variables in table order
	targets   []string // target paths in header order
}

// DuplicateRuleError reports two mapping rows covering the same variable
// and response, which is an authoring error in the table.
type DuplicateRuleError struct {
	Variable string
	Response string
}

func (e *DuplicateRuleError) Error() string {
	if e.Response == "" {
		return fmt.Sprintf("ingest: duplicate mapping rule for variable %q", e.Variable)
	}
	return fmt.Sprintf("ingest: duplicate mapping rule for variable %q response %q", e.Variable, e.Response)
}

// LoadTable reads a mapping table from a CSV file. The first two header
// columns name the source variable and response, the remainder are target
// dotted paths. Repeated variable blocks leave the variable cell blank on
// continuation rows.
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping table %s: %w", path, err)
	}
	defer f.Close()

	t, err := ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping table %s: %w", path, err)
	}
	t.Name = strings.TrimSuffix(strings.TrimSuffix(path, ".csv"), ".CSV")
	return t, nil
}

// FetchTable retrieves a mapping table over HTTP, retrying transient
// failures, so tables can live in a shared published sheet rather than on
// local disk.
func FetchTable(url string) (*Table, error) {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil

	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch mapping table from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("failed to fetch mapping table from %s: status %d", url, resp.StatusCode)
	}
	t, err := ReadTable(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping table from %s: %w", url, err)
	}
	t.Name = url
	return t, nil
}

// ReadTable parses mapping table CSV content.
func ReadTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < 3 {
		return nil, fmt.Errorf("mapping table needs variable, response and at least one target column, got %d columns", len(header))
	}

	t := &Table{
		rules:   make(map[string]map[string]map[string]string),
		targets: header[2:],
	}

	variable := ""
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read rule row: %w", err)
		}
		// Continuation rows inherit the variable from the block above.
		if v := strings.TrimSpace(rec[0]); v != "" {
			variable = v
		}
		if variable == "" {
			continue
		}
		response := NormalizeResponse(responseValue(rec, 1))

		byResponse, ok := t.rules[variable]
		if !ok {
			byResponse = make(map[string]map[string]string)
			t.rules[variable] = byResponse
			t.variables = append(t.variables, variable)
		}
		if _, dup := byResponse[response]; dup {
			return nil, &DuplicateRuleError{Variable: variable, Response: response}
		}

		targets := make(map[string]string)
		for i, path := range t.targets {
			if i+2 >= len(rec) {
				break
			}
			if v := strings.TrimSpace(rec[i+2]); v != "" {
				targets[path] = v
			}
		}
		byResponse[response] = targets
	}
	return t, nil
}

// Variables returns the source variables the table maps, in table order.
func (t *Table) Variables() []string {
	return t.variables
}

// Targets returns the target dotted paths, in header order.
func (t *Table) Targets() []string {
	return t.targets
}

// Lookup finds the rule targets for a variable and response. An exact
// response match wins over the wildcard entry.
func (t *Table) Lookup(variable string, response any) (map[string]string, bool) {
	byResponse, ok := t.rules[variable]
	if !ok {
		return nil, false
	}
	if targets, ok := byResponse[NormalizeResponse(response)]; ok {
		return targets, true
	}
	targets, ok := byResponse[""]
	return targets, ok
}

// Maps reports whether the table has any rule for the variable.
func (t *Table) Maps(variable string) bool {
	_, ok := t.rules[variable]
	return ok
}

// NormalizeResponse puts a response value into its canonical comparison
// form: numeric responses lose a trailing ".0" so that "1", 1 and 1.0 all
// match the same rule, and labelled responses like "1, Yes" keep only the
// code before the comma.
func NormalizeResponse(v any) string {
	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s = strings.TrimSpace(strings.SplitN(t, ",", 2)[0])
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		s = fmt.Sprint(t)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return s
}

func responseValue(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
