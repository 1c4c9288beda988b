package criteria

import (
	"fmt"
	"time"
)

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05.000Z", "2006-01-02"}

// formatDate renders s as d/m/yyyy without padding. Unparseable input is
// returned unchanged.
func formatDate(s string) string {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return fmt.Sprintf("%d/%d/%d", t.Day(), int(t.Month()), t.Year())
		}
	}
	return s
}

// timestamp is the wire format of dates computed on the server.
func timestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}
