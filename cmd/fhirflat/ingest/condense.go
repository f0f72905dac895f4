package ingest

import (
	"fmt"
)

// AmbiguousSubjectError reports a subject whose rows disagree on a column
// that should hold a single value. This is corrupt source data, not a
// recoverable condition.
type AmbiguousSubjectError struct {
	Subject string
	Column  string
}

func (e *AmbiguousSubjectError) Error() string {
	return fmt.Sprintf("ingest: subject %q has multiple distinct values for column %q", e.Subject, e.Column)
}

// CondenseBySubject collapses rows sharing a subject identifier into one
// row per subject ahead of one-to-one mapping. Each column keeps its
// single distinct non-null value; disagreement is fatal.
func CondenseBySubject(rows []map[string]any, subjectColumn string) ([]map[string]any, error) {
	var order []string
	bySubject := map[string]map[string]any{}

	for _, row := range rows {
		subject := fmt.Sprint(row[subjectColumn])
		condensed, seen := bySubject[subject]
		if !seen {
			condensed = map[string]any{}
			bySubject[subject] = condensed
			order = append(order, subject)
		}
		for col, v := range row {
			if isNull(v) {
				continue
			}
			existing, ok := condensed[col]
			if !ok {
				condensed[col] = v
				continue
			}
			if fmt.Sprint(existing) != fmt.Sprint(v) {
				return nil, &AmbiguousSubjectError{Subject: subject, Column: col}
			}
		}
	}

	out := make([]map[string]any, 0, len(order))
	for _, s := range order {
		out = append(out, bySubject[s])
	}
	return out, nil
}
