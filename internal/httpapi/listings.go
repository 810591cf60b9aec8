package httpapi

import (
	"net/http"

	"rental-platform/internal/auth"
	"rental-platform/internal/lifecycle"
	"rental-platform/internal/listing"

	"github.com/gin-gonic/gin"
)

type listingRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	PriceMinor  int64    `json:"price_minor"`
	Currency    string   `json:"currency"`
	Location    string   `json:"location"`
	Capacity    int      `json:"capacity"`
	Amenities   []string `json:"amenities"`
	Images      []string `json:"images"`
}

func (r listingRequest) draft() listing.Draft {
	return listing.Draft{
		Title:       r.Title,
		Description: r.Description,
		PriceMinor:  r.PriceMinor,
		Currency:    r.Currency,
		Location:    r.Location,
		Capacity:    r.Capacity,
		Amenities:   r.Amenities,
		Images:      r.Images,
	}
}

// patchRequest keeps status and featured so the engine can refuse them
// with a field-level error.
type patchRequest struct {
	Status   *listing.Status `json:"status"`
	Featured *bool           `json:"featured"`

	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	PriceMinor  *int64    `json:"price_minor"`
	Currency    *string   `json:"currency"`
	Location    *string   `json:"location"`
	Capacity    *int      `json:"capacity"`
	Amenities   *[]string `json:"amenities"`
	Images      *[]string `json:"images"`
}

func (r patchRequest) patch() listing.Patch {
	return listing.Patch{
		Status:      r.Status,
		Featured:    r.Featured,
		Title:       r.Title,
		Description: r.Description,
		PriceMinor:  r.PriceMinor,
		Currency:    r.Currency,
		Location:    r.Location,
		Capacity:    r.Capacity,
		Amenities:   r.Amenities,
		Images:      r.Images,
	}
}

// --- Public ---

// ListPublic serves the public view. ?featured=true narrows to featured.
func (h Handlers) ListPublic(c *gin.Context) {
	if h.Public == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "listings not configured"})
		return
	}
	items := h.Public.ListPublic()
	if c.Query("featured") == "true" {
		items = h.Public.ListFeatured()
	}
	c.JSON(http.StatusOK, gin.H{"listings": items})
}

func (h Handlers) GetPublic(c *gin.Context) {
	if h.Public == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "listings not configured"})
		return
	}
	l, ok := h.Public.Get(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		return
	}
	c.JSON(http.StatusOK, l)
}

// --- Owner ---

func (h Handlers) MyListings(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": h.Engine.Store().ListByOwner(actor.ID)})
}

func (h Handlers) Submit(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req listingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	l, err := h.Engine.Submit(c.Request.Context(), actor, req.draft())
	respondMutation(c, http.StatusCreated, l, err)
}

func (h Handlers) Update(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	l, err := h.Engine.Update(c.Request.Context(), actor, c.Param("id"), req.patch())
	respondMutation(c, http.StatusOK, l, err)
}

func (h Handlers) Delete(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	l, err := h.Engine.Delete(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if l.PendingSync {
		c.JSON(http.StatusAccepted, gin.H{"id": l.ID, "deleted": true, "pending_sync": true})
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Moderation ---

// ModerationQueue lists the privileged view. ?status= filters by status and
// ?pending_sync=true shows only locally applied entries.
func (h Handlers) ModerationQueue(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "engine not configured"})
		return
	}
	store := h.Engine.Store()
	var items []listing.Listing
	switch st := listing.Status(c.Query("status")); {
	case c.Query("pending_sync") == "true":
		items = store.Dirty()
	case st == "":
		items = store.List()
	case st.Valid():
		items = store.ListByStatus(st)
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": items})
}

func (h Handlers) moderate(op func(e *lifecycle.Engine, c *gin.Context, a auth.Actor, id string) (listing.Listing, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := h.actor(c)
		if !ok {
			return
		}
		l, err := op(h.Engine, c, actor, c.Param("id"))
		respondMutation(c, http.StatusOK, l, err)
	}
}

func (h Handlers) Approve() gin.HandlerFunc {
	return h.moderate(func(e *lifecycle.Engine, c *gin.Context, a auth.Actor, id string) (listing.Listing, error) {
		return e.Approve(c.Request.Context(), a, id)
	})
}

func (h Handlers) Reject() gin.HandlerFunc {
	return h.moderate(func(e *lifecycle.Engine, c *gin.Context, a auth.Actor, id string) (listing.Listing, error) {
		return e.Reject(c.Request.Context(), a, id)
	})
}

func (h Handlers) Feature() gin.HandlerFunc {
	return h.moderate(func(e *lifecycle.Engine, c *gin.Context, a auth.Actor, id string) (listing.Listing, error) {
		return e.Feature(c.Request.Context(), a, id)
	})
}

func (h Handlers) Unfeature() gin.HandlerFunc {
	return h.moderate(func(e *lifecycle.Engine, c *gin.Context, a auth.Actor, id string) (listing.Listing, error) {
		return e.Unfeature(c.Request.Context(), a, id)
	})
}

func (h Handlers) actor(c *gin.Context) (auth.Actor, bool) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "engine not configured"})
		return auth.Actor{}, false
	}
	a, ok := auth.ActorFrom(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return auth.Actor{}, false
	}
	return a, true
}

// respondMutation answers ok for confirmed writes and 202 for writes applied
// locally only.
func respondMutation(c *gin.Context, ok int, l listing.Listing, err error) {
	if err != nil {
		abortWithError(c, err)
		return
	}
	if l.PendingSync {
		c.JSON(http.StatusAccepted, l)
		return
	}
	c.JSON(ok, l)
}
