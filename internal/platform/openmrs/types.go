package openmrs

// Row is one patient of a dataset evaluation, keyed by the column names of
// the query projection.
type Row struct {
	PatientID int64  `json:"patientId"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Gender    string `json:"gender"`
	Age       int    `json:"age"`
}

type DataSet struct {
	Rows []Row `json:"rows"`
}

type Cohort struct {
	UUID        string `json:"uuid,omitempty"`
	Display     string `json:"display"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MemberIDs   []int  `json:"memberIds,omitempty"`
}

type CohortMember struct {
	UUID    string `json:"uuid"`
	Patient struct {
		UUID   string `json:"uuid"`
		Person struct {
			Display string `json:"display"`
			Gender  string `json:"gender"`
			Age     int    `json:"age"`
		} `json:"person"`
	} `json:"patient"`
}

// Definition is a saved ad hoc dataset definition.
type Definition struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type results[T any] struct {
	Results []T `json:"results"`
}
