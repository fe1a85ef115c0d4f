package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"civicgate/api/internal/ledger"
	"civicgate/api/internal/store"
	"civicgate/api/internal/workflow"
)

func issueTestToken(t *testing.T, svc *Service, profileID string) string {
	t.Helper()
	session, err := svc.CreateSession(context.Background(), profileID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session.Token
}

func doRequest(t *testing.T, handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	handler := NewHTTPServer(newTestService(&fakeStore{}), "*").Handler()

	recorder := doRequest(t, handler, http.MethodGet, "/api/health", "", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	if payload["ok"] != true {
		t.Fatalf("expected ok response, got %v", payload)
	}
}

func TestReadyEndpointReportsDatabase(t *testing.T) {
	handler := NewHTTPServer(newTestService(&fakeStore{}), "*").Handler()

	recorder := doRequest(t, handler, http.MethodGet, "/api/ready", "", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	if payload["status"] != "ready" {
		t.Fatalf("expected ready status, got %v", payload)
	}
}

func TestApplicationsRequireSession(t *testing.T) {
	handler := NewHTTPServer(newTestService(&fakeStore{}), "*").Handler()

	recorder := doRequest(t, handler, http.MethodGet, "/api/applications/permit", "", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestUnknownApplicationKindIsNotFound(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()
	token := issueTestToken(t, svc, "prof_1")

	recorder := doRequest(t, handler, http.MethodGet, "/api/applications/parade", token, "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestCommentVisibilityOverHTTP(t *testing.T) {
	var requestedInternal []bool
	fs := &fakeStore{
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			return draftApplication(id, "prof_resident"), nil
		},
		listCommentsFn: func(_ context.Context, _ workflow.Kind, _ string, includeInternal bool) ([]store.Comment, error) {
			requestedInternal = append(requestedInternal, includeInternal)
			return nil, nil
		},
		getProfileByIDFn: func(_ context.Context, id string) (store.Profile, error) {
			accountType := "resident"
			if id == "prof_staff" {
				accountType = "municipal"
			}
			return store.Profile{ID: id, DisplayName: "User", AccountType: accountType, MunicipalityID: "muni_1"}, nil
		},
	}
	svc := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()

	residentToken := issueTestToken(t, svc, "prof_resident")
	staffToken := issueTestToken(t, svc, "prof_staff")

	if recorder := doRequest(t, handler, http.MethodGet, "/api/applications/permit/app_1/comments", residentToken, ""); recorder.Code != http.StatusOK {
		t.Fatalf("resident list failed with %d", recorder.Code)
	}
	if recorder := doRequest(t, handler, http.MethodGet, "/api/applications/permit/app_1/comments", staffToken, ""); recorder.Code != http.StatusOK {
		t.Fatalf("staff list failed with %d", recorder.Code)
	}

	if len(requestedInternal) != 2 || requestedInternal[0] || !requestedInternal[1] {
		t.Fatalf("expected internal visibility [false true], got %v", requestedInternal)
	}

	body := `{"body":"between us","isInternal":true}`
	recorder := doRequest(t, handler, http.MethodPost, "/api/applications/permit/app_1/comments", residentToken, body)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for resident internal note, got %d", recorder.Code)
	}
	recorder = doRequest(t, handler, http.MethodPost, "/api/applications/permit/app_1/comments", staffToken, body)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201 for staff internal note, got %d", recorder.Code)
	}
}

func TestStatusEndpointReportsConflict(t *testing.T) {
	fs := &fakeStore{
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			return draftApplication(id, "prof_1"), nil
		},
		updateApplicationStatusFn: func(context.Context, workflow.Kind, string, workflow.Status, string, int64) (store.Application, error) {
			return store.Application{}, store.ErrVersionConflict
		},
	}
	svc := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()
	token := issueTestToken(t, svc, "prof_1")

	recorder := doRequest(t, handler, http.MethodPost, "/api/applications/permit/app_1/status", token, `{"newStatus":"submitted","expectedVersion":1}`)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	if payload["code"] != "CONFLICT" {
		t.Fatalf("expected CONFLICT code, got %v", payload["code"])
	}
}

func TestSubmitShortcutTransitionsDraft(t *testing.T) {
	fs := &fakeStore{
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			return draftApplication(id, "prof_1"), nil
		},
	}
	svc := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()
	token := issueTestToken(t, svc, "prof_1")

	recorder := doRequest(t, handler, http.MethodPost, "/api/applications/permit/app_1/submit", token, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	if payload["status"] != "submitted" {
		t.Fatalf("expected submitted, got %v", payload["status"])
	}
}

func TestTaxCalculateEndpoint(t *testing.T) {
	handler := NewHTTPServer(newTestService(&fakeStore{}), "*").Handler()

	recorder := doRequest(t, handler, http.MethodPost, "/api/tax/amusement/calculate", "", `{"grossReceipts":"1000.00"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	if payload["tax"] != "50.00" || payload["commission"] != "0.50" || payload["totalDue"] != "49.50" {
		t.Fatalf("unexpected breakdown %v", payload)
	}

	recorder = doRequest(t, handler, http.MethodPost, "/api/tax/parking/calculate", "", `{"grossReceipts":"1000.00"}`)
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown tax kind, got %d", recorder.Code)
	}
}

func TestExpireOverdueEndpointRequiresStaff(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()
	token := issueTestToken(t, svc, "prof_resident")

	recorder := doRequest(t, handler, http.MethodPost, "/api/admin/expire-overdue", token, "")
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
}

func TestAuditDetailEndpoint(t *testing.T) {
	fs := &fakeStore{
		getProfileByIDFn: func(_ context.Context, id string) (store.Profile, error) {
			return store.Profile{ID: id, DisplayName: "Clerk", AccountType: "municipal", MunicipalityID: "muni_1"}, nil
		},
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			item := draftApplication(id, "prof_1")
			item.Status = "submitted"
			return item, nil
		},
	}
	svc := newTestService(fs)
	svc.ledger = &fakeLedger{
		getSnapshotFn: func(_, _, hash string) (ledger.Snapshot, error) {
			if hash != "abc1234" {
				return ledger.Snapshot{}, errors.New("unknown hash")
			}
			return ledger.Snapshot{Kind: "permit", ID: "app_1", Status: "submitted", Title: "Deck addition", Version: 2, ChangedBy: "prof_1"}, nil
		},
	}
	handler := NewHTTPServer(svc, "*").Handler()
	token := issueTestToken(t, svc, "prof_2")

	recorder := doRequest(t, handler, http.MethodGet, "/api/applications/permit/app_1/audit/abc1234", token, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	if payload["status"] != "submitted" || payload["hash"] != "abc1234" {
		t.Fatalf("unexpected payload %v", payload)
	}

	recorder = doRequest(t, handler, http.MethodGet, "/api/applications/permit/app_1/audit/0000000", token, "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown hash, got %d", recorder.Code)
	}
}
