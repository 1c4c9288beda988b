package search

import (
	"testing"

	"github.com/ehr/cohortbuilder/internal/domain/history"
)

func TestToCSV(t *testing.T) {
	tests := []struct {
		name     string
		patients []history.Patient
		want     string
	}{
		{"empty", nil, "patient_id, full_name, age, gender\n"},
		{
			"rows",
			[]history.Patient{
				{PatientID: 1, Name: "Ann Lee", Age: 40, Gender: "F"},
				{PatientID: 2, Name: "Bo Kim", Age: 0, Gender: "M"},
			},
			"patient_id, full_name, age, gender\n\"1\",\"Ann Lee\",\"40\",\"F\"\n\"2\",\"Bo Kim\",\"0\",\"M\"",
		},
		{
			"quotes",
			[]history.Patient{{PatientID: 3, Name: `Jo "JJ" Smith`, Age: 9, Gender: "F"}},
			"patient_id, full_name, age, gender\n\"3\",\"Jo \"\"JJ\"\" Smith\",\"9\",\"F\"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(ToCSV(tt.patients)); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCSVFilename(t *testing.T) {
	tests := map[string]string{
		"Male Patients":      "Male Patients.csv",
		"Patients in A/B":    "Patients in A_B.csv",
		"  ":                 "cohort.csv",
		`Composition of "1"`: "Composition of _1_.csv",
	}
	for in, want := range tests {
		if got := csvFilename(in); got != want {
			t.Errorf("csvFilename(%q): expected %q, got %q", in, want, got)
		}
	}
}
