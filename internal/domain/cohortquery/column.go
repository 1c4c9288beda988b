package cohortquery

const (
	// LibraryNamespace prefixes every built-in definition key.
	LibraryNamespace = "reporting.library"

	// PatientDataDefinitionType tags every output column.
	PatientDataDefinitionType = "org.openmrs.module.reporting.data.patient.definition.PatientDataDefinition"

	// DataSetDefinitionType tags queries and row filters.
	DataSetDefinitionType = "org.openmrs.module.reporting.dataset.definition.PatientDataSetDefinition"
)

// Column is a projected output column of a cohort query.
type Column struct {
	Name string `json:"name"`
	Key  string `json:"key"`
	Type string `json:"type"`
}

var builtInColumns = []struct {
	name string
	key  string
}{
	{"firstname", "preferredName.givenName"},
	{"lastname", "preferredName.familyName"},
	{"gender", "gender"},
	{"age", "ageOnDate.fullYears"},
	{"patientId", "patientId"},
}

// Columns returns the fixed column set every query projects. Each call
// returns a fresh slice.
func Columns() []Column {
	cols := make([]Column, 0, len(builtInColumns))
	for _, c := range builtInColumns {
		cols = append(cols, Column{
			Name: c.name,
			Key:  LibraryNamespace + ".patientDataDefinition.builtIn." + c.key,
			Type: PatientDataDefinitionType,
		})
	}
	return cols
}
