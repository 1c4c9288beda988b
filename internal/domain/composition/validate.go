// Package composition compiles boolean expressions over search history
// slots ("1 and 2", "not 3") into a single cohort query.
package composition

import (
	"regexp"
)

var (
	atomPattern       = regexp.MustCompile(`(?i)and|or|not|\d+|\)|\(|union|intersection|!|\+`)
	// Matches what browsers treat as whitespace, including NBSP and the
	// line and paragraph separators.
	whitespacePattern = regexp.MustCompile(`[\s\v\p{Zs}\x{2028}\x{2029}\x{FEFF}]+`)
)

// IsValid reports whether every whitespace separated token of expr is a
// single recognised atom: a number, a parenthesis, or an operator. It does
// not check parenthesis balance or that slots exist.
//
// The check counts atom matches anywhere in the string, so a token such as
// "(1" counts twice and makes the expression invalid.
func IsValid(expr string) bool {
	matches := atomPattern.FindAllStringIndex(expr, -1)
	if matches == nil {
		return false
	}
	return len(matches) == len(whitespacePattern.Split(expr, -1))
}
