package criteria

import (
	"encoding/json"
	"time"

	"github.com/ehr/cohortbuilder/internal/domain/cohortquery"
)

type EnrollmentInput struct {
	Programs            []Option `json:"programs"`
	Locations           []Option `json:"locations"`
	EnrolledOnOrAfter   string   `json:"enrolledOnOrAfter"`
	EnrolledOnOrBefore  string   `json:"enrolledOnOrBefore"`
	CompletedOnOrAfter  string   `json:"completedOnOrAfter"`
	CompletedOnOrBefore string   `json:"completedOnOrBefore"`
}

func enrollments(raw json.RawMessage, _ time.Time) (Result, error) {
	in, err := decode[EnrollmentInput](raw)
	if err != nil {
		return Result{}, err
	}
	if len(in.Programs) == 0 {
		return Result{}, missing("program")
	}

	var p params
	p.add("programs", values(in.Programs))
	p.add("locationList", values(in.Locations))
	p.add("enrolledOnOrAfter", in.EnrolledOnOrAfter)
	p.add("enrolledOnOrBefore", in.EnrolledOnOrBefore)
	p.add("completedOnOrAfter", in.CompletedOnOrAfter)
	p.add("completedOnOrBefore", in.CompletedOnOrBefore)

	desc := "Patients enrolled in " + labels(in.Programs, ", ")
	if len(in.Locations) > 0 {
		desc += " at " + labels(in.Locations, ", ")
	}
	if in.EnrolledOnOrAfter != "" {
		desc += " enrolled on or after " + formatDate(in.EnrolledOnOrAfter)
	}
	if in.EnrolledOnOrBefore != "" {
		desc += " enrolled on or before " + formatDate(in.EnrolledOnOrBefore)
	}
	if in.CompletedOnOrAfter != "" {
		desc += " completed on or after " + formatDate(in.CompletedOnOrAfter)
	}
	if in.CompletedOnOrBefore != "" {
		desc += " completed on or before " + formatDate(in.CompletedOnOrBefore)
	}

	return Result{
		Criteria:    cohortquery.Criteria{cohortquery.Params("patientsWithEnrollment", p...)},
		Description: desc,
	}, nil
}
