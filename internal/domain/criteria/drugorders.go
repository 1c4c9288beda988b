package criteria

import (
	"encoding/json"
	"time"

	"github.com/ehr/cohortbuilder/internal/domain/cohortquery"
)

type DrugOrderInput struct {
	Drugs               []Option `json:"drugs"`
	CareSetting         *Option  `json:"careSetting"`
	ActiveOnOrAfter     string   `json:"activeOnOrAfter"`
	ActiveOnOrBefore    string   `json:"activeOnOrBefore"`
	ActivatedOnOrAfter  string   `json:"activatedOnOrAfter"`
	ActivatedOnOrBefore string   `json:"activatedOnOrBefore"`
}

func drugOrders(raw json.RawMessage, _ time.Time) (Result, error) {
	in, err := decode[DrugOrderInput](raw)
	if err != nil {
		return Result{}, err
	}
	if len(in.Drugs) == 0 {
		return Result{}, missing("drug")
	}

	var p params
	p.add("drugs", values(in.Drugs))
	if in.CareSetting != nil {
		p.add("careSetting", in.CareSetting.Value)
	}
	p.add("activeOnOrAfter", in.ActiveOnOrAfter)
	p.add("activeOnOrBefore", in.ActiveOnOrBefore)
	p.add("activatedOnOrAfter", in.ActivatedOnOrAfter)
	p.add("activatedOnOrBefore", in.ActivatedOnOrBefore)

	desc := "Patients who taking " + labels(in.Drugs, " and ")
	if in.CareSetting != nil && in.CareSetting.Label != "" {
		desc += " from " + in.CareSetting.Label
	}
	if in.ActiveOnOrAfter != "" {
		desc += " active since " + formatDate(in.ActiveOnOrAfter)
	}
	if in.ActiveOnOrBefore != "" {
		desc += " active until " + formatDate(in.ActiveOnOrBefore)
	}
	if in.ActivatedOnOrAfter != "" {
		desc += " activated since " + formatDate(in.ActivatedOnOrAfter)
	}
	if in.ActivatedOnOrBefore != "" {
		desc += " activated until " + formatDate(in.ActivatedOnOrBefore)
	}

	return Result{
		Criteria:    cohortquery.Criteria{cohortquery.Params("drugOrderSearch", p...)},
		Description: desc,
	}, nil
}
