package clinic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo) {
	return NewHandler(newTestService()), echo.New()
}

func expectHTTPStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestHandler_CreateClinic(t *testing.T) {
	h, e := newTestHandler()

	body := `{"name":"Test Clinic","email":"ops@test.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/clinics", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateClinic(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var cl Clinic
	json.Unmarshal(rec.Body.Bytes(), &cl)
	if cl.Name != "Test Clinic" || cl.ReportsAllowed != DefaultReportsAllowed {
		t.Errorf("unexpected clinic %+v", cl)
	}
}

func TestHandler_CreateClinic_BadRequest(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/clinics", strings.NewReader(`{"email":"x@y.z"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	expectHTTPStatus(t, h.CreateClinic(c), http.StatusBadRequest)
}

func TestHandler_GetClinic(t *testing.T) {
	h, e := newTestHandler()
	cl := &Clinic{Name: "Test"}
	h.svc.CreateClinic(context.Background(), cl)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(cl.ID.String())

	if err := h.GetClinic(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetClinic_Errors(t *testing.T) {
	h, e := newTestHandler()
	tests := []struct {
		name   string
		id     string
		status int
	}{
		{"not found", uuid.New().String(), http.StatusNotFound},
		{"invalid id", "not-a-uuid", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("id")
			c.SetParamValues(tt.id)
			expectHTTPStatus(t, h.GetClinic(c), tt.status)
		})
	}
}

func TestHandler_ListClinics(t *testing.T) {
	h, e := newTestHandler()
	for _, name := range []string{"A", "B", "C"} {
		h.svc.CreateClinic(context.Background(), &Clinic{Name: name})
	}

	req := httptest.NewRequest(http.MethodGet, "/?limit=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListClinics(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data    []Clinic `json:"data"`
		Total   int      `json:"total"`
		HasMore bool     `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 3 || len(resp.Data) != 2 || !resp.HasMore {
		t.Errorf("unexpected page: total=%d len=%d has_more=%v", resp.Total, len(resp.Data), resp.HasMore)
	}
}

func TestHandler_DeleteClinic(t *testing.T) {
	h, e := newTestHandler()
	cl := &Clinic{Name: "ToDelete"}
	h.svc.CreateClinic(context.Background(), cl)

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(cl.ID.String())

	if err := h.DeleteClinic(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_ConsumeAndPurchase(t *testing.T) {
	h, e := newTestHandler()
	cl := &Clinic{Name: "Reports"}
	h.svc.CreateClinic(context.Background(), cl)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(cl.ID.String())
	if err := h.ConsumeReport(c); err != nil {
		t.Fatalf("consume: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":5}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(cl.ID.String())
	if err := h.PurchaseReports(c); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	var got Clinic
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ReportsUsed != 1 || got.ReportsAllowed != 15 {
		t.Errorf("expected 1/15, got %d/%d", got.ReportsUsed, got.ReportsAllowed)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":-1}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(cl.ID.String())
	expectHTTPStatus(t, h.PurchaseReports(c), http.StatusBadRequest)
}
