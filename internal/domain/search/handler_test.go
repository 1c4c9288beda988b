package search

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/cohortbuilder/internal/platform/openmrs"
	"github.com/ehr/cohortbuilder/internal/platform/session"
)

func newTestContext(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req = req.WithContext(session.WithID(req.Context(), "s1"))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected HTTPError %d, got %v", code, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestHandler_RunCriteria(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()

	c, rec := newTestContext(e, http.MethodPost, "/api/v1/searches/drugOrders",
		`{"drugs":[{"value":"d1","label":"Aspirin"}]}`)
	c.SetParamNames("kind")
	c.SetParamValues("drugOrders")
	if err := h.RunCriteria(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var res Result
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Total != 2 || res.Description != "Patients who taking Aspirin" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestHandler_RunCriteria_Errors(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()

	tests := []struct {
		name string
		kind string
		body string
		code int
	}{
		{"unknown kind", "vitals", `{}`, http.StatusNotFound},
		{"missing selection", "drugOrders", `{}`, http.StatusBadRequest},
		{"malformed body", "drugOrders", `{"drugs":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestContext(e, http.MethodPost, "/api/v1/searches/"+tt.kind, tt.body)
			c.SetParamNames("kind")
			c.SetParamValues(tt.kind)
			expectStatus(t, h.RunCriteria(c), tt.code)
		})
	}
}

func TestHandler_RunQuery(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()

	body, _ := json.Marshal(map[string]any{"query": demographicsQuery().Query, "description": "Males"})
	c, rec := newTestContext(e, http.MethodPost, "/api/v1/searches", string(body))
	if err := h.RunQuery(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if len(f.exec.calls) != 1 || f.exec.calls[0].Query.RowFilters[0].Key != "reporting.library.cohortDefinition.builtIn.males" {
		t.Errorf("unexpected executed query %+v", f.exec.calls)
	}

	c, _ = newTestContext(e, http.MethodPost, "/api/v1/searches", `{"description":"x"}`)
	expectStatus(t, h.RunQuery(c), http.StatusBadRequest)
}

func TestHandler_RunQuery_UpstreamError(t *testing.T) {
	f := newFixture()
	f.exec.err = &openmrs.APIError{StatusCode: http.StatusInternalServerError, Message: "boom"}
	h := NewHandler(f.svc)

	body, _ := json.Marshal(map[string]any{"query": demographicsQuery().Query})
	c, _ := newTestContext(echo.New(), http.MethodPost, "/api/v1/searches", string(body))
	expectStatus(t, h.RunQuery(c), http.StatusBadGateway)
}

func TestHandler_Compose(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()

	c, _ := newTestContext(e, http.MethodPost, "/api/v1/compositions", `{"expression":"1 plus 2"}`)
	expectStatus(t, h.Compose(c), http.StatusBadRequest)

	c, rec := newTestContext(e, http.MethodPost, "/api/v1/compositions", `{"expression":"1 or 2"}`)
	if err := h.Compose(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res Result
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Description != "Composition of 1 or 2" {
		t.Errorf("unexpected description %q", res.Description)
	}
}

func TestHandler_ValidateComposition(t *testing.T) {
	h := NewHandler(newFixture().svc)
	e := echo.New()

	tests := map[string]bool{
		"1 and 2":         true,
		"(1 or 2) and !3": false,
		"1 plus 2":        false,
	}
	for expr, want := range tests {
		body, _ := json.Marshal(map[string]string{"expression": expr})
		c, rec := newTestContext(e, http.MethodPost, "/api/v1/compositions/validate", string(body))
		if err := h.ValidateComposition(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var got map[string]bool
		json.Unmarshal(rec.Body.Bytes(), &got)
		if got["valid"] != want {
			t.Errorf("%q: expected valid=%v, got %v", expr, want, got["valid"])
		}
	}
}

func TestHandler_SaveCohort(t *testing.T) {
	f := newFixture()
	f.svc.Run(testCtx(), demographicsQuery(), "Male Patients")
	h := NewHandler(f.svc)
	e := echo.New()

	c, rec := newTestContext(e, http.MethodPost, "/", `{"name":"Adults","description":"grown ups"}`)
	c.SetParamNames("id")
	c.SetParamValues("1")
	if err := h.SaveCohort(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	c, _ = newTestContext(e, http.MethodPost, "/", `{"name":"","description":"x"}`)
	c.SetParamNames("id")
	c.SetParamValues("1")
	expectStatus(t, h.SaveCohort(c), http.StatusBadRequest)

	c, _ = newTestContext(e, http.MethodPost, "/", `{"name":"n","description":"x"}`)
	c.SetParamNames("id")
	c.SetParamValues("9")
	expectStatus(t, h.SaveQuery(c), http.StatusNotFound)
}

func TestHandler_DownloadCSV(t *testing.T) {
	f := newFixture()
	f.svc.Run(testCtx(), demographicsQuery(), "Male Patients")
	h := NewHandler(f.svc)

	c, rec := newTestContext(echo.New(), http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("1")
	if err := h.DownloadCSV(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != csvContentType {
		t.Errorf("unexpected content type %q", ct)
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); cd != `attachment; filename="Male Patients.csv"` {
		t.Errorf("unexpected disposition %q", cd)
	}
	if !strings.HasPrefix(rec.Body.String(), csvHeader) {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestHandler_Export_Disabled(t *testing.T) {
	f := newFixture()
	f.svc.Run(testCtx(), demographicsQuery(), "Male Patients")
	h := NewHandler(f.svc)

	c, _ := newTestContext(echo.New(), http.MethodPost, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("1")
	expectStatus(t, h.Export(c), http.StatusNotImplemented)
}

func TestHandler_Cohorts(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()

	c, rec := newTestContext(e, http.MethodGet, "/api/v1/cohorts", "")
	if err := h.ListCohorts(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("expected empty list, got %s", body)
	}

	c, rec = newTestContext(e, http.MethodDelete, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("c-9")
	if err := h.DeleteCohort(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent || len(f.defs.deleted) != 1 || f.defs.deleted[0] != "c-9" {
		t.Errorf("expected c-9 deleted with 204, got %d %v", rec.Code, f.defs.deleted)
	}

	f.defs.err = &openmrs.APIError{StatusCode: http.StatusNotFound, Message: "no such cohort"}
	c, _ = newTestContext(e, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("c-9")
	expectStatus(t, h.CohortMembers(c), http.StatusNotFound)
}

func TestHTTPError_Default(t *testing.T) {
	expectStatus(t, httpError(errors.New("dial tcp: refused")), http.StatusBadGateway)
}
