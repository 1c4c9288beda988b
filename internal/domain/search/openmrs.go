package search

import (
	"context"
	"strconv"

	"github.com/ehr/cohortbuilder/internal/domain/cohortquery"
	"github.com/ehr/cohortbuilder/internal/domain/history"
	"github.com/ehr/cohortbuilder/internal/platform/openmrs"
)

// OpenMRS executes searches and stores definitions on an OpenMRS server.
type OpenMRS struct {
	client *openmrs.Client
}

func NewOpenMRS(client *openmrs.Client) *OpenMRS {
	return &OpenMRS{client: client}
}

func patientsFromRows(rows []openmrs.Row) []history.Patient {
	patients := make([]history.Patient, 0, len(rows))
	for _, r := range rows {
		patients = append(patients, history.Patient{
			PatientID: r.PatientID,
			Firstname: r.Firstname,
			Lastname:  r.Lastname,
			Gender:    r.Gender,
			Age:       r.Age,
		})
	}
	return patients
}

func (o *OpenMRS) Execute(ctx context.Context, params cohortquery.SearchParams) ([]history.Patient, error) {
	rows, err := o.client.Search(ctx, params)
	if err != nil {
		return nil, err
	}
	return patientsFromRows(rows), nil
}

func (o *OpenMRS) CreateCohort(ctx context.Context, c NewCohort) (Definition, error) {
	created, err := o.client.CreateCohort(ctx, openmrs.Cohort{
		Display:     c.Display,
		Name:        c.Name,
		Description: c.Description,
		MemberIDs:   c.MemberIDs,
	})
	if err != nil {
		return Definition{}, err
	}
	return Definition{UUID: created.UUID, Name: created.Name, Description: created.Description}, nil
}

func (o *OpenMRS) ListCohorts(ctx context.Context) ([]Definition, error) {
	cohorts, err := o.client.ListCohorts(ctx)
	if err != nil {
		return nil, err
	}
	defs := make([]Definition, 0, len(cohorts))
	for _, c := range cohorts {
		defs = append(defs, Definition{UUID: c.UUID, Name: c.Name, Description: c.Description})
	}
	return defs, nil
}

func (o *OpenMRS) DeleteCohort(ctx context.Context, uuid string) error {
	return o.client.DeleteCohort(ctx, uuid)
}

// CohortMembers maps members by patient uuid; the member resource does
// not expose the numeric patient id.
func (o *OpenMRS) CohortMembers(ctx context.Context, uuid string) ([]history.Patient, error) {
	members, err := o.client.CohortMembers(ctx, uuid)
	if err != nil {
		return nil, err
	}
	patients := make([]history.Patient, 0, len(members))
	for _, m := range members {
		patients = append(patients, history.Patient{
			ID:     m.Patient.UUID,
			Name:   m.Patient.Person.Display,
			Gender: m.Patient.Person.Gender,
			Age:    m.Patient.Person.Age,
		})
	}
	return patients, nil
}

func (o *OpenMRS) CreateQuery(ctx context.Context, query map[string]any) (Definition, error) {
	created, err := o.client.CreateDefinition(ctx, query)
	if err != nil {
		return Definition{}, err
	}
	return Definition{UUID: created.UUID, Name: created.Name, Description: created.Description}, nil
}

func (o *OpenMRS) ListQueries(ctx context.Context) ([]Definition, error) {
	items, err := o.client.ListDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	defs := make([]Definition, 0, len(items))
	for _, d := range items {
		defs = append(defs, Definition{UUID: d.UUID, Name: d.Name, Description: d.Description})
	}
	return defs, nil
}

func (o *OpenMRS) DeleteQuery(ctx context.Context, uuid string) error {
	return o.client.DeleteDefinition(ctx, uuid)
}

func (o *OpenMRS) QueryResults(ctx context.Context, uuid string) ([]history.Patient, error) {
	rows, err := o.client.EvaluateDefinition(ctx, uuid)
	if err != nil {
		return nil, err
	}
	patients := patientsFromRows(rows)
	for i := range patients {
		patients[i].ID = strconv.FormatInt(patients[i].PatientID, 10)
		patients[i].Name = patients[i].Firstname + " " + patients[i].Lastname
	}
	return patients, nil
}
