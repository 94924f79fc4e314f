package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestHasRole(t *testing.T) {
	tests := []struct {
		name     string
		role     string
		required []string
		want     bool
	}{
		{"exact match", RoleClinicAdmin, []string{RoleClinicAdmin}, true},
		{"one of many", RoleUser, []string{RoleClinicAdmin, RoleUser}, true},
		{"super admin passes", RoleSuperAdmin, []string{RoleClinicAdmin}, true},
		{"missing", RoleUser, []string{RoleClinicAdmin}, false},
		{"no roles", "", []string{RoleUser}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithIdentity(context.Background(), "u", tt.role, nil)
			if got := HasRole(ctx, tt.required...); got != tt.want {
				t.Errorf("HasRole(%q, %v) = %v, want %v", tt.role, tt.required, got, tt.want)
			}
		})
	}
}

func TestRequireRole_Allowed(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), "u", RoleClinicAdmin, nil))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := RequireRole(RoleClinicAdmin, RoleSuperAdmin)(okHandler)(c); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), "u", RoleUser, nil))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	expectStatus(t, RequireRole(RoleSuperAdmin)(okHandler)(c), http.StatusForbidden)
}

func TestRequireClinicScope(t *testing.T) {
	own := uuid.New()
	other := uuid.New()

	tests := []struct {
		name   string
		role   string
		clinic *uuid.UUID
		param  string
		status int
	}{
		{"super admin any clinic", RoleSuperAdmin, nil, other.String(), 0},
		{"clinic admin own clinic", RoleClinicAdmin, &own, own.String(), 0},
		{"clinic admin other clinic", RoleClinicAdmin, &own, other.String(), http.StatusForbidden},
		{"no clinic bound", RoleClinicAdmin, nil, own.String(), http.StatusForbidden},
		{"bad id", RoleSuperAdmin, nil, "nope", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(WithIdentity(req.Context(), "u", tt.role, tt.clinic))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("id")
			c.SetParamValues(tt.param)

			err := RequireClinicScope("id")(okHandler)(c)
			if tt.status == 0 {
				if err != nil {
					t.Fatalf("expected access, got %v", err)
				}
				return
			}
			expectStatus(t, err, tt.status)
		})
	}
}
