package cohortquery

import (
	"strconv"
	"strings"
)

// Combine joins filter positions 1..N with AND, emitting NOT for filters
// tagged alive. The tag is cleared on each filter as it is consumed.
func Combine(filters []RowFilter) string {
	var b strings.Builder
	for i := range filters {
		if filters[i].livingStatus == LivingStatusAlive {
			b.WriteString("NOT ")
			filters[i].livingStatus = ""
		}
		b.WriteString(strconv.Itoa(i + 1))
		if i < len(filters)-1 {
			b.WriteString(" AND ")
		}
	}
	return b.String()
}
