package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"pbx-routing/internal/auth"

	"github.com/gin-gonic/gin"
)

func serve(t *testing.T, orgID, role string, allowed ...string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	chain := []gin.HandlerFunc{func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u", orgID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}}
	chain = append(chain, Scoped(allowed...)...)
	chain = append(chain, func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/x", chain...)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_SuperAdminBypasses(t *testing.T) {
	if code := serve(t, "o", RoleSuperAdmin, RoleOwner); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_AllowedRole(t *testing.T) {
	if code := serve(t, "o", RoleOperator, RoleOwner, RoleOperator); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_AnalystCannotHangup(t *testing.T) {
	if code := serve(t, "o", RoleAnalyst, RoleOwner, RoleOperator); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_HiddenRoleDeniedUnlessAllowed(t *testing.T) {
	if code := serve(t, "o", RoleSupport, RoleOwner); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serve(t, "o", RoleSupport, RoleOwner, RoleSupport); code != http.StatusOK {
		t.Fatalf("expected 200 when hidden role is allowed, got %d", code)
	}
}

func TestRequireAnyRole_OrganizationRequired(t *testing.T) {
	if code := serve(t, "", RoleOwner, RoleOwner); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}
