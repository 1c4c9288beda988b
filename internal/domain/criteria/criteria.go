// Package criteria turns the input of each cohort search form into
// criteria for the query compiler, together with the human-readable
// description stored alongside the search in history.
package criteria

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ehr/cohortbuilder/internal/domain/cohortquery"
)

var (
	ErrUnknownKind         = errors.New("unknown criterion kind")
	ErrMissingSelection    = errors.New("missing required selection")
	ErrInvalidInput        = errors.New("invalid criterion input")
	ErrUnsupportedDatatype = errors.New("concept datatype is not searchable")
)

type Kind string

const (
	KindDemographics     Kind = "demographics"
	KindConcepts         Kind = "concepts"
	KindEncounters       Kind = "encounters"
	KindLocation         Kind = "location"
	KindEnrollments      Kind = "enrollments"
	KindDrugOrders       Kind = "drugOrders"
	KindPersonAttributes Kind = "personAttributes"
)

// Option is a selectable reporting entity: Value is the uuid sent in the
// query, Label is what descriptions show.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Result is what a rule produces for one form submission.
type Result struct {
	Criteria    cohortquery.Criteria
	Description string
}

// Rule decodes one form's input and builds its criteria. now is the
// reference time for relative dates.
type Rule func(raw json.RawMessage, now time.Time) (Result, error)

var rules = map[Kind]Rule{
	KindDemographics:     demographics,
	KindConcepts:         concepts,
	KindEncounters:       encounters,
	KindLocation:         location,
	KindEnrollments:      enrollments,
	KindDrugOrders:       drugOrders,
	KindPersonAttributes: personAttributes,
}

// Build runs the rule registered for kind.
func Build(kind Kind, raw json.RawMessage, now time.Time) (Result, error) {
	rule, ok := rules[kind]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return rule(raw, now)
}

// Kinds lists the registered kinds in name order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(rules))
	for k := range rules {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func decode[T any](raw json.RawMessage) (T, error) {
	var in T
	if len(raw) == 0 {
		return in, nil
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return in, nil
}

func missing(what string) error {
	return fmt.Errorf("%w: %s", ErrMissingSelection, what)
}

func values(opts []Option) []string {
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		out = append(out, o.Value)
	}
	return out
}

func labels(opts []Option, sep string) string {
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		out = append(out, o.Label)
	}
	return strings.Join(out, sep)
}

// params keeps only the arguments that carry a value so that an unset
// optional bound is not sent as an empty string.
type params []cohortquery.Param

func (p *params) add(name string, value any) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return
		}
	case int:
		if v == 0 {
			return
		}
	case []string:
		if len(v) == 0 {
			return
		}
	}
	*p = append(*p, cohortquery.Param{Name: name, Value: value})
}
