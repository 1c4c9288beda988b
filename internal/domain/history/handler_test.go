package history

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/cohortbuilder/internal/platform/session"
)

func newTestHandler(t *testing.T) (*Handler, *Log, *echo.Echo) {
	t.Helper()
	log, _, _ := newTestLog()
	return NewHandler(log), log, echo.New()
}

func sessionRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(session.WithID(req.Context(), "s1"))
}

func TestHandler_ListHistory(t *testing.T) {
	h, log, e := newTestHandler(t)
	log.Append(testCtx("s1"), "Male Patients", patients(2), testParams)

	rec := httptest.NewRecorder()
	c := e.NewContext(sessionRequest(http.MethodGet, "/api/v1/history"), rec)
	if err := h.ListHistory(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var got []map[string]any
	json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0]["id"] != "1" || got[0]["results"] != float64(2) || got[0]["description"] != "Male Patients" {
		t.Errorf("unexpected entry %v", got[0])
	}
}

func TestHandler_ListHistory_Empty(t *testing.T) {
	h, _, e := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(sessionRequest(http.MethodGet, "/api/v1/history"), rec)
	if err := h.ListHistory(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("expected empty list, got %q", body)
	}
}

func TestHandler_ListPatients_Paged(t *testing.T) {
	h, log, e := newTestHandler(t)
	log.Append(testCtx("s1"), "x", patients(30), testParams)

	rec := httptest.NewRecorder()
	c := e.NewContext(sessionRequest(http.MethodGet, "/api/v1/history/1/patients?limit=10&offset=25"), rec)
	c.SetParamNames("id")
	c.SetParamValues("1")
	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var page struct {
		Data    []Patient `json:"data"`
		Total   int       `json:"total"`
		HasMore bool      `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 30 || len(page.Data) != 5 || page.HasMore {
		t.Errorf("unexpected page total=%d len=%d more=%v", page.Total, len(page.Data), page.HasMore)
	}
}

func TestHandler_GetEntry_NotFound(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := e.NewContext(sessionRequest(http.MethodGet, "/"), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("3")

	err := h.GetEntry(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_DeleteEntry(t *testing.T) {
	h, log, e := newTestHandler(t)
	log.Append(testCtx("s1"), "a", patients(1), testParams)
	log.Append(testCtx("s1"), "b", patients(1), testParams)

	rec := httptest.NewRecorder()
	c := e.NewContext(sessionRequest(http.MethodDelete, "/"), rec)
	c.SetParamNames("id")
	c.SetParamValues("1")
	if err := h.DeleteEntry(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	entries := log.Read(testCtx("s1"))
	if len(entries) != 1 || entries[0].Description != "b" {
		t.Errorf("expected only b left, got %+v", entries)
	}

	c = e.NewContext(sessionRequest(http.MethodDelete, "/"), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("7")
	err := h.DeleteEntry(c)
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_ClearHistory(t *testing.T) {
	h, log, e := newTestHandler(t)
	log.Append(testCtx("s1"), "a", patients(1), testParams)

	rec := httptest.NewRecorder()
	c := e.NewContext(sessionRequest(http.MethodDelete, "/api/v1/history"), rec)
	if err := h.ClearHistory(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if len(log.Read(testCtx("s1"))) != 0 {
		t.Error("expected history cleared")
	}
}
