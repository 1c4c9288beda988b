// Package cohortquery builds the serializable cohort query sent to the
// reporting search endpoint: the fixed column projection, the row filters
// compiled from criteria, and the boolean expression combining them.
package cohortquery

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// LivingStatusAlive marks criteria whose filter must be negated in the
// combination expression (alive = NOT died during period).
const LivingStatusAlive = "alive"

// RowFilter is one inclusion criterion of a query. Its 1-based position in
// Query.RowFilters is how the combination expression refers to it.
type RowFilter struct {
	Key             string         `json:"key"`
	ParameterValues map[string]any `json:"parameterValues,omitempty"`
	Type            string         `json:"type"`

	// livingStatus only lives between compilation and Combine.
	livingStatus string
}

// Negated reports whether the filter still carries the living status tag,
// i.e. it was compiled but not yet combined.
func (f RowFilter) Negated() bool {
	return f.livingStatus == LivingStatusAlive
}

// Query is the dataset definition executed by the reporting module.
type Query struct {
	Type                       string      `json:"type"`
	Columns                    []Column    `json:"columns"`
	RowFilters                 []RowFilter `json:"rowFilters"`
	CustomRowFilterCombination string      `json:"customRowFilterCombination"`

	// Name and Description are only set when the query is saved.
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// SearchParams is the envelope handed to the search executor.
type SearchParams struct {
	Query Query `json:"query"`
}

// NewQuery returns an empty query carrying the standard columns.
func NewQuery() Query {
	return Query{
		Type:       DataSetDefinitionType,
		Columns:    Columns(),
		RowFilters: []RowFilter{},
	}
}

// BuildQuery compiles criteria into a complete search envelope.
func BuildQuery(c Criteria) SearchParams {
	compiled := Compile(c)
	q := NewQuery()
	q.RowFilters = compiled.RowFilters
	q.CustomRowFilterCombination = compiled.Combination
	return SearchParams{Query: q}
}

var referencePattern = regexp.MustCompile(`\d+`)

// CheckCombination reports row filters that the combination expression never
// references and references beyond the last row filter. Queries with such
// gaps still execute; callers decide what to do with the result.
func CheckCombination(q Query) error {
	n := len(q.RowFilters)
	seen := make(map[int]bool, n)
	var errs []error
	for _, ref := range referencePattern.FindAllString(q.CustomRowFilterCombination, -1) {
		idx, err := strconv.Atoi(ref)
		if err != nil {
			continue
		}
		if idx < 1 || idx > n {
			errs = append(errs, fmt.Errorf("combination references row filter %d but the query has %d", idx, n))
			continue
		}
		seen[idx] = true
	}
	for i := 1; i <= n; i++ {
		if !seen[i] {
			errs = append(errs, fmt.Errorf("row filter %d is not referenced by the combination", i))
		}
	}
	return errors.Join(errs...)
}
