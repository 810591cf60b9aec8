package httpapi

import (
	"rental-platform/internal/audit"
	"rental-platform/internal/auth"
	"rental-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the /v1 API on r.
func Register(r gin.IRouter, h Handlers, tokens *auth.Manager) {
	v1 := r.Group("/v1")
	v1.Use(audit.CaptureClientContext())

	// public
	v1.GET("/listings", h.ListPublic)
	v1.GET("/listings/:id", h.GetPublic)
	v1.POST("/auth/login", h.Login)

	authed := v1.Group("")
	authed.Use(auth.RequireAccessToken(tokens))
	{
		authed.GET("/me", h.Me)
		authed.GET("/me/listings", h.MyListings)
		authed.POST("/auth/logout", h.Logout)

		authed.POST("/listings", h.Submit)
		authed.PATCH("/listings/:id", h.Update)
		authed.DELETE("/listings/:id", h.Delete)
	}

	admin := authed.Group("/admin")
	admin.Use(rbac.RequireModerator())
	{
		admin.GET("/listings", h.ModerationQueue)
		admin.POST("/listings/:id/approve", h.Approve())
		admin.POST("/listings/:id/reject", h.Reject())
		admin.POST("/listings/:id/feature", h.Feature())
		admin.POST("/listings/:id/unfeature", h.Unfeature())

		admin.GET("/audit", h.AuditFeed)
		admin.GET("/audit/export.csv", h.AuditExport)
		admin.POST("/audit/archive", h.AuditArchive)

		admin.GET("/diagnostics", h.Diagnostics)
	}
}
