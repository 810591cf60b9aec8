package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"rental-platform/internal/audit"
	"rental-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const defaultExportLimit = 10000

// parseFilter reads audit filters from the query string. Times are RFC3339.
func parseFilter(c *gin.Context) (audit.Filter, error) {
	f := audit.Filter{
		EntityKind: audit.EntityKind(c.Query("entity_kind")),
		EntityID:   c.Query("entity_id"),
		Action:     audit.Action(c.Query("action")),
		Severity:   audit.Severity(c.Query("severity")),
		ActorID:    c.Query("actor_id"),
		FreeText:   c.Query("q"),
	}
	if f.Severity != "" && !f.Severity.Valid() {
		return audit.Filter{}, fmt.Errorf("unknown severity %q", f.Severity)
	}
	var err error
	if f.OccurredAfter, err = parseTime(c, "after"); err != nil {
		return audit.Filter{}, err
	}
	if f.OccurredBefore, err = parseTime(c, "before"); err != nil {
		return audit.Filter{}, err
	}
	return f, nil
}

func parseTime(c *gin.Context, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339", key)
	}
	return t, nil
}

func parseInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

// AuditFeed serves one page of the audit feed, newest first.
func (h Handlers) AuditFeed(c *gin.Context) {
	if h.Query == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	f, err := parseFilter(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, err := parseInt(c, "page", 1)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	size, err := parseInt(c, "page_size", 0)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.Query.Query(c.Request.Context(), f, audit.Page{Number: page, Size: size})
	if err != nil {
		logger.FromGin(c).Error("audit query failed", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "audit feed unavailable"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// AuditExport streams every matching record as CSV, up to ?limit.
func (h Handlers) AuditExport(c *gin.Context) {
	if h.Query == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	f, err := parseFilter(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, err := parseInt(c, "limit", defaultExportLimit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := fmt.Sprintf("audit-%s.csv", h.now().UTC().Format("20060102T150405Z"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Status(http.StatusOK)

	n, err := h.Query.ExportCSV(c.Request.Context(), c.Writer, f, limit)
	if err != nil {
		// Headers are gone; the truncated body is all we can do.
		logger.FromGin(c).Error("audit export failed", "written", n, "err", err)
		_ = c.Error(err)
		return
	}
	h.record(c.Request.Context(), exportEntry(c, f, n, ""))
}

// AuditArchive uploads a CSV export to the compliance bucket.
func (h Handlers) AuditArchive(c *gin.Context) {
	if h.Query == nil || h.Archive == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "audit archive not configured"})
		return
	}
	f, err := parseFilter(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, err := parseInt(c, "limit", 0)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key, n, err := h.Archive.ArchiveExport(c.Request.Context(), h.Query, f, limit)
	if err != nil {
		logger.FromGin(c).Error("audit archive failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "archive upload failed"})
		return
	}
	h.record(c.Request.Context(), exportEntry(c, f, n, key))
	c.JSON(http.StatusCreated, gin.H{"key": key, "records": n})
}

// exportEntry audits who pulled the feed and with which filter.
func exportEntry(c *gin.Context, f audit.Filter, n int, key string) audit.Entry {
	uid := c.GetString("user_id")
	return audit.Entry{
		ActorID:    uid,
		ActorRole:  c.GetString("role"),
		Action:     audit.ActionAuditExported,
		EntityKind: audit.EntityAudit,
		EntityID:   key,
		After: map[string]any{
			"records":     n,
			"entity_kind": f.EntityKind,
			"action":      f.Action,
			"severity":    f.Severity,
			"actor_id":    f.ActorID,
			"q":           f.FreeText,
		},
	}
}
