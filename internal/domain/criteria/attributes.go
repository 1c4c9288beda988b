package criteria

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ehr/cohortbuilder/internal/domain/cohortquery"
)

type PersonAttributeInput struct {
	AttributeType *Option  `json:"attributeType"`
	Values        []string `json:"values"`
}

func personAttributes(raw json.RawMessage, _ time.Time) (Result, error) {
	in, err := decode[PersonAttributeInput](raw)
	if err != nil {
		return Result{}, err
	}
	if in.AttributeType == nil || in.AttributeType.Value == "" {
		return Result{}, missing("attribute type")
	}

	var p params
	p.add("attributeType", in.AttributeType.Value)
	p.add("values", in.Values)

	desc := "Patients with " + in.AttributeType.Label
	if len(in.Values) > 0 {
		desc += " equal to either " + strings.Join(in.Values, " or ")
	}
	return Result{
		Criteria:    cohortquery.Criteria{cohortquery.Params("personWithAttribute", p...)},
		Description: desc,
	}, nil
}
