package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"rental-platform/internal/audit"
	"rental-platform/internal/auth"
	"rental-platform/internal/lifecycle"
	"rental-platform/internal/listing"
	"rental-platform/internal/rbac"
	"rental-platform/internal/reconcile"
	"rental-platform/internal/session"
	"rental-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Authenticator
	Engine   *lifecycle.Engine
	Public   *listing.Store
	Audit    lifecycle.Recorder
	Query    *audit.QueryService
	Sessions session.Publisher
	Archive  *audit.S3Archiver

	// Loops are exposed read-only on the diagnostics endpoint.
	Loops map[string]*reconcile.Loop

	Clock func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// --- Auth ---

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login checks credentials, issues a token pair and announces the new
// session so role-scoped views refresh.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "email and password required"})
		return
	}

	ctx := c.Request.Context()
	actor, pair, err := h.Auth.Login(ctx, req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		if actor.ID == "" {
			actor = auth.Actor{ID: audit.AnonymousActor, Role: rbac.RoleGuest}
		}
		h.record(ctx, audit.Entry{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     audit.ActionLoginFailed,
			EntityKind: audit.EntitySession,
			EntityID:   strings.ToLower(strings.TrimSpace(req.Email)),
		})
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("login failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	h.record(ctx, audit.Entry{
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     audit.ActionSessionLogin,
		EntityKind: audit.EntitySession,
		EntityID:   actor.ID,
	})
	h.announce(c, session.KindLogin, actor)
	c.JSON(http.StatusOK, gin.H{"actor": actor, "tokens": pair})
}

// Logout is stateless for tokens; it records the session end and announces it.
func (h Handlers) Logout(c *gin.Context) {
	actor, ok := auth.ActorFrom(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	h.record(c.Request.Context(), audit.Entry{
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     audit.ActionSessionLogout,
		EntityKind: audit.EntitySession,
		EntityID:   actor.ID,
	})
	h.announce(c, session.KindLogout, actor)
	c.Status(http.StatusNoContent)
}

func (h Handlers) Me(c *gin.Context) {
	actor, _ := auth.ActorFrom(c.Request.Context())
	c.JSON(http.StatusOK, actor)
}

func (h Handlers) record(ctx context.Context, e audit.Entry) {
	if h.Audit != nil {
		h.Audit.Record(ctx, e)
	}
}

// announce publishes a session change. Failures are logged only; the
// periodic reconciliation covers a missed signal.
func (h Handlers) announce(c *gin.Context, kind session.Kind, actor auth.Actor) {
	if h.Sessions == nil {
		return
	}
	ev := session.Event{Kind: kind, ActorID: actor.ID, Role: actor.Role, At: h.now().UTC()}
	if err := h.Sessions.Publish(c.Request.Context(), ev); err != nil {
		logger.FromGin(c).Warn("session change not published", "kind", kind, "err", err)
	}
}

// Diagnostics reports reconciliation health and locally applied listings.
func (h Handlers) Diagnostics(c *gin.Context) {
	loops := make(map[string]reconcile.Stats, len(h.Loops))
	for name, l := range h.Loops {
		loops[name] = l.Stats()
	}
	dirty := 0
	if h.Engine != nil {
		dirty = len(h.Engine.Store().Dirty())
	}
	c.JSON(http.StatusOK, gin.H{"reconcile": loops, "pending_sync_listings": dirty})
}
