package search

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/ehr/cohortbuilder/internal/domain/history"
)

const (
	csvHeader      = "patient_id, full_name, age, gender\n"
	csvContentType = "text/csv;charset=utf-8;"
)

// ToCSV renders patients with every value quoted and no trailing newline.
func ToCSV(patients []history.Patient) []byte {
	var buf bytes.Buffer
	buf.WriteString(csvHeader)
	for i, p := range patients {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(quote(strconv.FormatInt(p.PatientID, 10)))
		buf.WriteByte(',')
		buf.WriteString(quote(p.Name))
		buf.WriteByte(',')
		buf.WriteString(quote(strconv.Itoa(p.Age)))
		buf.WriteByte(',')
		buf.WriteString(quote(p.Gender))
	}
	return buf.Bytes()
}

func quote(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

// csvFilename derives a download name from a history description.
func csvFilename(description string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '"', ':', '*', '?', '<', '>', '|', '\n', '\r':
			return '_'
		}
		return r
	}, strings.TrimSpace(description))
	if name == "" {
		name = "cohort"
	}
	return name + ".csv"
}
