package criteria

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ehr/cohortbuilder/internal/domain/cohortquery"
)

type Concept struct {
	UUID      string `json:"uuid"`
	Name      string `json:"name"`
	HL7Abbrev string `json:"hl7Abbrev"`
}

type ConceptInput struct {
	Concept      *Concept `json:"concept"`
	Modifier     string   `json:"modifier"`
	Operator     string   `json:"operator"`
	Value        float64  `json:"value"`
	TimeModifier string   `json:"timeModifier"`
	OnOrAfter    string   `json:"onOrAfter"`
	OnOrBefore   string   `json:"onOrBefore"`
	LastDays     int      `json:"lastDays"`
	LastMonths   int      `json:"lastMonths"`
}

var obsDefinitions = map[string]string{
	"CWE": "codedObsSearchAdvanced",
	"ZZ":  "codedObsSearchAdvanced",
	"BIT": "codedObsSearchAdvanced",
	"NM":  "numericObsSearchAdvanced",
	"DT":  "dateObsSearchAdvanced",
	"ST":  "dateObsSearchAdvanced",
	"TS":  "textObsSearchAdvanced",
}

// listModifier reports whether the datatype takes its answer as a list.
func listModifier(hl7 string) bool {
	return hl7 == "CWE" || hl7 == "TS"
}

func concepts(raw json.RawMessage, now time.Time) (Result, error) {
	in, err := decode[ConceptInput](raw)
	if err != nil {
		return Result{}, err
	}
	if in.Concept == nil || in.Concept.UUID == "" {
		return Result{}, missing("concept")
	}
	definition, ok := obsDefinitions[in.Concept.HL7Abbrev]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedDatatype, in.Concept.HL7Abbrev)
	}
	if in.Operator == "" {
		in.Operator = "LESS_THAN"
	}
	if in.TimeModifier == "" {
		in.TimeModifier = "ANY"
	}

	onOrBefore := in.OnOrBefore
	if in.LastDays > 0 || in.LastMonths > 0 {
		onOrBefore = timestamp(now.AddDate(0, -in.LastMonths, -in.LastDays))
	}
	value1 := ""
	if in.Value > 0 {
		value1 = strconv.FormatFloat(in.Value, 'f', -1, 64)
	}

	var p params
	if in.Modifier != "" {
		if listModifier(in.Concept.HL7Abbrev) {
			p.add("values", []string{in.Modifier})
		} else {
			p.add("value1", in.Modifier)
		}
	}
	p.add("operator1", in.Operator)
	p.add("value1", value1)
	p.add("question", in.Concept.UUID)
	p.add("onOrBefore", onOrBefore)
	p.add("onOrAfter", in.OnOrAfter)
	p.add("timeModifier", in.TimeModifier)

	return Result{
		Criteria:    cohortquery.Criteria{cohortquery.Params(definition, p...)},
		Description: conceptDescription(in.TimeModifier, in.Concept.Name, in.OnOrAfter, onOrBefore),
	}, nil
}

func conceptDescription(timeModifier, conceptName, onOrAfter, onOrBefore string) string {
	var since, until string
	if onOrAfter != "" {
		since = "since " + formatDate(onOrAfter)
	}
	if onOrBefore != "" {
		until = "until " + formatDate(onOrBefore)
	}
	return strings.TrimSpace(fmt.Sprintf("Patients with %s %s %s %s", timeModifier, conceptName, since, until))
}
