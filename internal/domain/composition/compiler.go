package composition

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ehr/cohortbuilder/internal/domain/cohortquery"
)

// SlotSource exposes the raw persisted history blob. A nil blob means no
// history has been stored.
type SlotSource interface {
	RawHistory(ctx context.Context) (json.RawMessage, error)
}

// Skip records a slot token that contributed nothing to the composite.
type Skip struct {
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

// Report describes how each slot reference was resolved.
type Report struct {
	Resolved []string `json:"resolved"`
	Skipped  []Skip   `json:"skipped"`
}

var (
	digitPattern  = regexp.MustCompile(`\d`)
	parenReplacer = strings.NewReplacer("(", "( ", ")", " )")
)

// Compile builds the composite query for expr. Slot tokens that cannot be
// resolved are skipped; the query is always returned.
func Compile(ctx context.Context, expr string, slots SlotSource) cohortquery.SearchParams {
	params, _ := CompileWithReport(ctx, expr, slots)
	return params
}

// CompileWithReport is Compile plus a record of resolved and skipped slot tokens.
func CompileWithReport(ctx context.Context, expr string, slots SlotSource) (cohortquery.SearchParams, Report) {
	query := cohortquery.NewQuery()
	var report Report
	var combination strings.Builder

	var history []json.RawMessage
	var historyErr error
	loaded := false

	for _, token := range whitespacePattern.Split(parenReplacer.Replace(expr), -1) {
		if !digitPattern.MatchString(token) {
			combination.WriteString(" " + token + " ")
			continue
		}

		if !loaded {
			history, historyErr = loadHistory(ctx, slots)
			loaded = true
		}
		if historyErr != nil {
			report.Skipped = append(report.Skipped, Skip{Token: token, Reason: historyErr.Error()})
			continue
		}

		operand, err := resolve(history, token)
		if err != nil {
			report.Skipped = append(report.Skipped, Skip{Token: token, Reason: err.Error()})
			continue
		}

		combination.WriteString("(" + renumber(*operand.Combination, len(query.RowFilters)) + ")")
		query.RowFilters = append(query.RowFilters, operand.RowFilters...)
		report.Resolved = append(report.Resolved, token)
	}

	query.CustomRowFilterCombination = combination.String()
	return cohortquery.SearchParams{Query: query}, report
}

// storedQuery is the part of a history entry's parameters a composition reads.
type storedQuery struct {
	RowFilters  []cohortquery.RowFilter `json:"rowFilters"`
	Combination *string                 `json:"customRowFilterCombination"`
}

func loadHistory(ctx context.Context, slots SlotSource) ([]json.RawMessage, error) {
	if slots == nil {
		return nil, fmt.Errorf("no history")
	}
	raw, err := slots.RawHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no history")
	}
	var history []json.RawMessage
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("history is not a list")
	}
	return history, nil
}

func resolve(history []json.RawMessage, token string) (*storedQuery, error) {
	slot, ok := parseLeadingInt(token)
	if !ok {
		return nil, fmt.Errorf("not a slot number")
	}
	if slot < 1 || slot > len(history) {
		return nil, fmt.Errorf("slot %d is out of range", slot)
	}

	var entry struct {
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal(history[slot-1], &entry); err != nil {
		return nil, fmt.Errorf("slot %d is malformed", slot)
	}
	if len(entry.Parameters) == 0 || string(entry.Parameters) == "null" {
		return nil, fmt.Errorf("slot %d has no parameters", slot)
	}

	var q storedQuery
	if err := json.Unmarshal(entry.Parameters, &q); err != nil {
		return nil, fmt.Errorf("slot %d parameters are not a query", slot)
	}
	if q.Combination == nil {
		return nil, fmt.Errorf("slot %d has no combination", slot)
	}
	return &q, nil
}

// renumber shifts the first digit of a stored combination by offset. Only
// one digit is rewritten, so "1 AND 2" offset by 2 becomes "3 AND 2".
func renumber(combination string, offset int) string {
	loc := digitPattern.FindStringIndex(combination)
	if loc == nil {
		return combination
	}
	d := int(combination[loc[0]] - '0')
	return combination[:loc[0]] + strconv.Itoa(d+offset) + combination[loc[1]:]
}

// parseLeadingInt reads an optionally signed run of leading digits after any
// whitespace, ignoring whatever follows ("2)" is 2, "x2" is not a number).
func parseLeadingInt(s string) (int, bool) {
	s = strings.TrimLeft(s, " \t\n\r\f\v")
	sign := 1
	if s != "" && (s[0] == '+' || s[0] == '-') {
		if s[0] == '-' {
			sign = -1
		}
		s = s[1:]
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return sign * n, true
}
