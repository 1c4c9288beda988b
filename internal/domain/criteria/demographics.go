package criteria

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ehr/cohortbuilder/internal/domain/cohortquery"
)

type DemographicsInput struct {
	Gender            string `json:"gender"`
	MinAge            int    `json:"minAge"`
	MaxAge            int    `json:"maxAge"`
	BirthDayStartDate string `json:"birthDayStartDate"`
	BirthDayEndDate   string `json:"birthDayEndDate"`
	LivingStatus      string `json:"livingStatus"`
}

var genderLabels = map[string]string{
	"all":     "All",
	"males":   "Male",
	"females": "Female",
}

// demographics always emits the four fields; the compiler drops the ones
// whose first argument is empty, so a zero minimum age disables the age
// range even when a maximum is given.
func demographics(raw json.RawMessage, now time.Time) (Result, error) {
	in, err := decode[DemographicsInput](raw)
	if err != nil {
		return Result{}, err
	}
	if in.Gender == "" {
		in.Gender = "all"
	}
	label, ok := genderLabels[in.Gender]
	if !ok {
		return Result{}, fmt.Errorf("%w: gender %q", ErrInvalidInput, in.Gender)
	}
	switch in.LivingStatus {
	case "", cohortquery.LivingStatusAlive, "dead":
	default:
		return Result{}, fmt.Errorf("%w: living status %q", ErrInvalidInput, in.LivingStatus)
	}

	c := cohortquery.Criteria{
		cohortquery.Scalar("gender", in.Gender),
		cohortquery.Params("ageRangeOnDate",
			cohortquery.Param{Name: "minAge", Value: in.MinAge},
			cohortquery.Param{Name: "maxAge", Value: in.MaxAge},
		),
		cohortquery.Params("bornDuringPeriod",
			cohortquery.Param{Name: "startDate", Value: in.BirthDayStartDate},
			cohortquery.Param{Name: "endDate", Value: in.BirthDayEndDate},
		),
	}
	if in.LivingStatus != "" {
		c = append(c, cohortquery.Params("diedDuringPeriod",
			cohortquery.Param{Name: "endDate", Value: timestamp(now), LivingStatus: in.LivingStatus},
		))
	}

	desc := label + " Patients"
	// Only describe the ranges the compiler keeps.
	if in.MinAge != 0 {
		desc += fmt.Sprintf(" with ages between %d and %d years", in.MinAge, in.MaxAge)
	}
	if in.BirthDayStartDate != "" {
		desc += fmt.Sprintf(" born between %s and %s", formatDate(in.BirthDayStartDate), formatDate(in.BirthDayEndDate))
	}
	if in.LivingStatus != "" {
		desc += " that are " + in.LivingStatus
	}
	return Result{Criteria: c, Description: desc}, nil
}
