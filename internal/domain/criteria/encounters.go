package criteria

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ehr/cohortbuilder/internal/domain/cohortquery"
)

const encounterDefinition = "encounterSearchAdvanced"

type EncounterInput struct {
	EncounterTypes []Option `json:"encounterTypes"`
	Locations      []Option `json:"locations"`
	Forms          []Option `json:"forms"`
	AtLeastCount   int      `json:"atLeastCount"`
	AtMostCount    int      `json:"atMostCount"`
	OnOrAfter      string   `json:"onOrAfter"`
	OnOrBefore     string   `json:"onOrBefore"`
}

func encounters(raw json.RawMessage, _ time.Time) (Result, error) {
	in, err := decode[EncounterInput](raw)
	if err != nil {
		return Result{}, err
	}

	var p params
	p.add("encounterTypeList", values(in.EncounterTypes))
	p.add("locationList", values(in.Locations))
	p.add("formList", values(in.Forms))
	p.add("atLeastCount", in.AtLeastCount)
	p.add("atMostCount", in.AtMostCount)
	p.add("onOrAfter", in.OnOrAfter)
	p.add("onOrBefore", in.OnOrBefore)
	if len(p) == 0 {
		return Result{}, missing("encounter type, location, form, count or date")
	}

	desc := "Patients with Encounter"
	if len(in.EncounterTypes) > 0 {
		desc += " of Types " + labels(in.EncounterTypes, ", ")
	}
	if len(in.Locations) > 0 {
		desc += " at " + labels(in.Locations, ", ")
	}
	if len(in.Forms) > 0 {
		desc += " from " + labels(in.Forms, ", ")
	}
	if in.AtLeastCount > 0 {
		desc += fmt.Sprintf(" at least %d times ", in.AtLeastCount)
	}
	if in.AtMostCount > 0 {
		desc += fmt.Sprintf(" and at most %d times", in.AtMostCount)
	}
	if in.OnOrAfter != "" {
		desc += " on or after " + formatDate(in.OnOrAfter)
	}
	if in.OnOrBefore != "" {
		desc += " on or before " + formatDate(in.OnOrBefore)
	}

	return Result{
		Criteria:    cohortquery.Criteria{cohortquery.Params(encounterDefinition, p...)},
		Description: desc,
	}, nil
}

type LocationInput struct {
	Method    string   `json:"method"`
	Locations []Option `json:"locations"`
}

var locationMethods = map[string]string{
	"ANY":   "Any Encounter",
	"LAST":  "Most Recent Encounter",
	"FIRST": "Earliest Encounter",
}

func location(raw json.RawMessage, _ time.Time) (Result, error) {
	in, err := decode[LocationInput](raw)
	if err != nil {
		return Result{}, err
	}
	if in.Method == "" {
		in.Method = "ANY"
	}
	method, ok := locationMethods[in.Method]
	if !ok {
		return Result{}, fmt.Errorf("%w: location method %q", ErrInvalidInput, in.Method)
	}
	if len(in.Locations) == 0 {
		return Result{}, missing("location")
	}

	c := cohortquery.Criteria{cohortquery.Params(encounterDefinition,
		cohortquery.Param{Name: "locationList", Value: values(in.Locations)},
		cohortquery.Param{Name: "timeQualifier", Value: in.Method},
	)}
	return Result{
		Criteria:    c,
		Description: fmt.Sprintf("Patients in %s (by method %s).", labels(in.Locations, ", "), method),
	}, nil
}
