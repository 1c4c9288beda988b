// Package search runs cohort searches against the reporting executor,
// records them in the session's history and manages the cohorts and
// queries saved from that history.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/cohortbuilder/internal/domain/cohortquery"
	"github.com/ehr/cohortbuilder/internal/domain/composition"
	"github.com/ehr/cohortbuilder/internal/domain/criteria"
	"github.com/ehr/cohortbuilder/internal/domain/history"
	"github.com/ehr/cohortbuilder/internal/platform/metrics"
	"github.com/ehr/cohortbuilder/internal/platform/notification"
	"github.com/ehr/cohortbuilder/internal/platform/session"
)

var (
	ErrInvalidComposition  = errors.New("composition is not valid")
	ErrNameRequired        = errors.New("name is required")
	ErrDescriptionRequired = errors.New("description is required")
	ErrExportDisabled      = errors.New("export is not configured")
)

// Executor evaluates a search envelope.
type Executor interface {
	Execute(ctx context.Context, params cohortquery.SearchParams) ([]history.Patient, error)
}

// Definition is a saved cohort or query as listed by the server.
type Definition struct {
	UUID        string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type NewCohort struct {
	Display     string `json:"display"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MemberIDs   []int  `json:"memberIds"`
}

// Definitions stores cohorts and queries saved from history.
type Definitions interface {
	CreateCohort(ctx context.Context, c NewCohort) (Definition, error)
	ListCohorts(ctx context.Context) ([]Definition, error)
	DeleteCohort(ctx context.Context, uuid string) error
	CohortMembers(ctx context.Context, uuid string) ([]history.Patient, error)

	CreateQuery(ctx context.Context, query map[string]any) (Definition, error)
	ListQueries(ctx context.Context) ([]Definition, error)
	DeleteQuery(ctx context.Context, uuid string) error
	QueryResults(ctx context.Context, uuid string) ([]history.Patient, error)
}

// Exporter uploads an export and returns where it can be fetched.
type Exporter interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Result is the outcome of one executed search.
type Result struct {
	Description string            `json:"description"`
	Total       int               `json:"total"`
	Patients    []history.Patient `json:"patients"`
	Query       cohortquery.Query `json:"query"`
}

type Service struct {
	exec     Executor
	defs     Definitions
	history  *history.Log
	notifier notification.Notifier
	exporter Exporter
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(exec Executor, defs Definitions, log *history.Log, notifier notification.Notifier, logger zerolog.Logger) *Service {
	if notifier == nil {
		notifier = notification.Discard
	}
	return &Service{
		exec:     exec,
		defs:     defs,
		history:  log,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// SetExporter enables uploads of CSV exports.
func (s *Service) SetExporter(e Exporter) {
	s.exporter = e
}

func (s *Service) notify(ctx context.Context, kind notification.Kind, title, message string) {
	s.notifier.Notify(ctx, notification.Notification{Kind: kind, Title: title, Message: message})
}

// Run executes params, stores the search in history and returns the rows
// with their display id and name filled in.
func (s *Service) Run(ctx context.Context, params cohortquery.SearchParams, description string) (Result, error) {
	return s.run(ctx, "query", params, description)
}

func (s *Service) run(ctx context.Context, kind string, params cohortquery.SearchParams, description string) (Result, error) {
	if err := cohortquery.CheckCombination(params.Query); err != nil {
		s.logger.Warn().Err(err).Str("combination", params.Query.CustomRowFilterCombination).
			Msg("row filter combination does not match the row filters")
	}

	rows, err := s.exec.Execute(ctx, params)
	if err != nil {
		metrics.Searches.WithLabelValues(kind, "error").Inc()
		s.logger.Error().Err(err).Str("kind", kind).Msg("search failed")
		s.notify(ctx, notification.KindError, "Error", err.Error())
		return Result{}, fmt.Errorf("execute search: %w", err)
	}
	if rows == nil {
		rows = []history.Patient{}
	}
	for i := range rows {
		rows[i].ID = strconv.FormatInt(rows[i].PatientID, 10)
		rows[i].Name = rows[i].Firstname + " " + rows[i].Lastname
	}

	s.history.Append(ctx, description, rows, params.Query)
	metrics.Searches.WithLabelValues(kind, "ok").Inc()
	s.notify(ctx, notification.KindSuccess, "Search completed", fmt.Sprintf("%d results found", len(rows)))

	return Result{Description: description, Total: len(rows), Patients: rows, Query: params.Query}, nil
}

// RunCriteria builds the query for one search form and runs it.
func (s *Service) RunCriteria(ctx context.Context, kind criteria.Kind, raw json.RawMessage) (Result, error) {
	res, err := criteria.Build(kind, raw, s.now())
	if err != nil {
		metrics.Searches.WithLabelValues(string(kind), "invalid").Inc()
		return Result{}, err
	}
	return s.run(ctx, string(kind), cohortquery.BuildQuery(res.Criteria), res.Description)
}

// Compose combines earlier searches of the session by their history slot
// numbers and runs the result.
func (s *Service) Compose(ctx context.Context, expr, description string) (Result, error) {
	if !composition.IsValid(expr) {
		metrics.Searches.WithLabelValues("composition", "invalid").Inc()
		s.notify(ctx, notification.KindError, "Error!", "Composition is not valid")
		return Result{}, ErrInvalidComposition
	}

	params, report := composition.CompileWithReport(ctx, expr, s.history)
	if n := len(report.Skipped); n > 0 {
		metrics.CompositionSkippedTokens.Add(float64(n))
		for _, skip := range report.Skipped {
			s.logger.Debug().Str("token", skip.Token).Str("reason", skip.Reason).Msg("composition token skipped")
		}
	}
	if strings.TrimSpace(description) == "" {
		description = "Composition of " + expr
	}
	return s.run(ctx, "composition", params, description)
}

func required(name, description string) (string, string, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if name == "" {
		return "", "", ErrNameRequired
	}
	if description == "" {
		return "", "", ErrDescriptionRequired
	}
	return name, description, nil
}

// memberIDs parses the display ids of patients. Ids that are not numbers
// are left out.
func memberIDs(patients []history.Patient) []int {
	ids := make([]int, 0, len(patients))
	for _, p := range patients {
		raw := p.ID
		if raw == "" {
			raw = strconv.FormatInt(p.PatientID, 10)
		}
		id, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// SaveCohort saves the patients of a history entry as a cohort.
func (s *Service) SaveCohort(ctx context.Context, historyID, name, description string) (Definition, error) {
	name, description, err := required(name, description)
	if err != nil {
		return Definition{}, err
	}
	entry, err := s.history.Get(ctx, historyID)
	if err != nil {
		return Definition{}, err
	}

	def, err := s.defs.CreateCohort(ctx, NewCohort{
		Display:     name,
		Name:        name,
		Description: description,
		MemberIDs:   memberIDs(entry.Patients),
	})
	if err != nil {
		s.notify(ctx, notification.KindError, "Error creating the cohort", err.Error())
		return Definition{}, fmt.Errorf("create cohort: %w", err)
	}
	s.notify(ctx, notification.KindSuccess, "Success", "Cohort created successfully")
	return def, nil
}

// SaveQuery saves the query of a history entry under a name.
func (s *Service) SaveQuery(ctx context.Context, historyID, name, description string) (Definition, error) {
	name, description, err := required(name, description)
	if err != nil {
		return Definition{}, err
	}
	entry, err := s.history.Get(ctx, historyID)
	if err != nil {
		return Definition{}, err
	}

	query := map[string]any{}
	if err := json.Unmarshal(entry.Parameters, &query); err != nil {
		return Definition{}, fmt.Errorf("decode stored query: %w", err)
	}
	query["name"] = name
	query["description"] = description

	def, err := s.defs.CreateQuery(ctx, query)
	if err != nil {
		s.notify(ctx, notification.KindError, "Error saving the query", err.Error())
		return Definition{}, fmt.Errorf("create query: %w", err)
	}
	s.notify(ctx, notification.KindSuccess, "Success", "the query is saved")
	return def, nil
}

// CSVExport is the download of a history entry's patients.
type CSVExport struct {
	Filename string
	Data     []byte
}

func (s *Service) ExportCSV(ctx context.Context, historyID string) (CSVExport, error) {
	entry, err := s.history.Get(ctx, historyID)
	if err != nil {
		return CSVExport{}, err
	}
	return CSVExport{Filename: csvFilename(entry.Description), Data: ToCSV(entry.Patients)}, nil
}

// Export uploads the CSV of a history entry and returns its location.
func (s *Service) Export(ctx context.Context, historyID string) (string, error) {
	if s.exporter == nil {
		return "", ErrExportDisabled
	}
	export, err := s.ExportCSV(ctx, historyID)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("exports/%s/%s/%s", session.FromContext(ctx), s.now().UTC().Format("2006-01-02"), uuid.NewString()+".csv")
	location, err := s.exporter.Upload(ctx, key, csvContentType, export.Data)
	if err != nil {
		s.notify(ctx, notification.KindError, "Export failed", err.Error())
		return "", fmt.Errorf("upload export: %w", err)
	}
	s.notify(ctx, notification.KindSuccess, "Export ready", export.Filename)
	return location, nil
}

func (s *Service) ListCohorts(ctx context.Context) ([]Definition, error) {
	return s.defs.ListCohorts(ctx)
}

func (s *Service) DeleteCohort(ctx context.Context, uuid string) error {
	return s.defs.DeleteCohort(ctx, uuid)
}

func (s *Service) ListQueries(ctx context.Context) ([]Definition, error) {
	return s.defs.ListQueries(ctx)
}

func (s *Service) DeleteQuery(ctx context.Context, uuid string) error {
	return s.defs.DeleteQuery(ctx, uuid)
}

// CohortMembers loads the patients of a saved cohort.
func (s *Service) CohortMembers(ctx context.Context, uuid string) ([]history.Patient, error) {
	return s.results(ctx, func() ([]history.Patient, error) { return s.defs.CohortMembers(ctx, uuid) })
}

// QueryResults evaluates a saved query.
func (s *Service) QueryResults(ctx context.Context, uuid string) ([]history.Patient, error) {
	return s.results(ctx, func() ([]history.Patient, error) { return s.defs.QueryResults(ctx, uuid) })
}

func (s *Service) results(ctx context.Context, load func() ([]history.Patient, error)) ([]history.Patient, error) {
	patients, err := load()
	if err != nil {
		s.notify(ctx, notification.KindError, "Error", err.Error())
		return nil, err
	}
	if patients == nil {
		patients = []history.Patient{}
	}
	s.notify(ctx, notification.KindSuccess, "Search completed", fmt.Sprintf("%d results found", len(patients)))
	return patients, nil
}
