package httpapi

import (
	"pbx-routing/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts health probes publicly and the ops API under /v1 behind authMW.
func (h Handlers) Register(r gin.IRouter, authMW gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireOrganization())

	callsGroup := v1.Group("/calls")
	{
		callsGroup.GET("/:call_id", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleAnalyst), h.GetCall)
		callsGroup.POST("/:call_id/hangup", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator), h.HangupCall)
		callsGroup.POST("/:call_id/redirect", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator), h.RedirectCall)
	}

	// carrier_support may read breaker state but nothing tenant-scoped.
	v1.GET("/circuits/:name", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleSupport), h.GetCircuit)
}
