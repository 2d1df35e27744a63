// Package audithttp exposes the audit query surface over HTTP: filtered
// event queries, a recent-activity convenience view, windowed statistics,
// and manual event append. All routes assume the ginmw pipeline has already
// established the tenant context.
package audithttp

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	tenantauth "github.com/harborlist/tenantauth-go"
	"github.com/harborlist/tenantauth-go/audit"
	"github.com/harborlist/tenantauth-go/middleware/ginmw"
)

// Handler serves the audit endpoints.
type Handler struct {
	svc      *audit.Service
	recorder *audit.Recorder
	roles    tenantauth.RoleStore
	logger   *slog.Logger
}

// NewHandler creates the audit endpoint handler. The role store decides
// whether the caller is a global admin and therefore exempt from tenant
// scoping.
func NewHandler(svc *audit.Service, recorder *audit.Recorder, roles tenantauth.RoleStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, recorder: recorder, roles: roles, logger: logger}
}

// Register mounts the audit routes on the given group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/events", h.queryEvents)
	rg.GET("/events/recent", h.recentEvents)
	rg.GET("/stats", h.stats)
	rg.POST("/events", h.appendEvent)
}

func (h *Handler) queryEvents(c *gin.Context) {
	tc := ginmw.GetTenantContext(c)
	if tc == nil {
		abort(c, tenantauth.ErrInvalidTenantContext, "missing tenant context")
		return
	}

	f := audit.Filter{
		TenantID:     c.Query("tenantId"),
		SubjectID:    c.Query("userId"),
		Actions:      audit.ParseActions(c.Query("action")),
		Severities:   audit.ParseSeverities(c.Query("severity")),
		ResourceType: tenantauth.ResourceType(c.Query("resourceType")),
		ResourceID:   c.Query("resourceId"),
		Limit:        intQuery(c, "limit"),
		Offset:       intQuery(c, "offset"),
	}
	if t, ok := timeQuery(c, "startDate"); ok {
		f.From = t
	}
	if t, ok := timeQuery(c, "endDate"); ok {
		f.To = t
	}
	if s := c.Query("success"); s != "" {
		b := s == "true"
		f.Success = &b
	}

	events, err := h.svc.QueryEvents(c.Request.Context(), f, tc.TenantID, h.isGlobalAdmin(c, tc))
	if err != nil {
		h.logger.Error("audit query failed", "trace_id", tc.TraceID, "error", err)
		abort(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (h *Handler) recentEvents(c *gin.Context) {
	tc := ginmw.GetTenantContext(c)
	if tc == nil {
		abort(c, tenantauth.ErrInvalidTenantContext, "missing tenant context")
		return
	}

	events, err := h.svc.RecentEvents(c.Request.Context(), tc.TenantID, h.isGlobalAdmin(c, tc),
		intQuery(c, "limit"), intQuery(c, "offset"))
	if err != nil {
		h.logger.Error("recent events query failed", "trace_id", tc.TraceID, "error", err)
		abort(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (h *Handler) stats(c *gin.Context) {
	tc := ginmw.GetTenantContext(c)
	if tc == nil {
		abort(c, tenantauth.ErrInvalidTenantContext, "missing tenant context")
		return
	}

	var from, to time.Time
	if t, ok := timeQuery(c, "startDate"); ok {
		from = t
	}
	if t, ok := timeQuery(c, "endDate"); ok {
		to = t
	}

	stats, err := h.svc.Stats(c.Request.Context(), tc.TenantID, h.isGlobalAdmin(c, tc),
		from, to, intQuery(c, "days"))
	if err != nil {
		h.logger.Error("audit stats failed", "trace_id", tc.TraceID, "error", err)
		abort(c, err, "")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// appendEvent accepts a manually-logged audit event. An action field is
// required, and the tenantId field is tenant-isolated exactly as the guard
// treats generic bodies: a non-admin naming another tenant is blocked and the
// attempt itself is audited.
func (h *Handler) appendEvent(c *gin.Context) {
	tc := ginmw.GetTenantContext(c)
	if tc == nil {
		abort(c, tenantauth.ErrInvalidTenantContext, "missing tenant context")
		return
	}

	var body struct {
		Action       string         `json:"action"`
		ResourceType string         `json:"resourceType"`
		ResourceID   string         `json:"resourceId"`
		TenantID     string         `json:"tenantId"`
		Success      *bool          `json:"success"`
		Severity     string         `json:"severity"`
		Details      map[string]any `json:"details"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, tenantauth.APIError{
			Error: "invalid_body", Message: "request body must be a JSON audit event",
		})
		return
	}
	if body.Action == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, tenantauth.APIError{
			Error: "invalid_body", Message: "an action field is required",
		})
		return
	}

	tenantID := tc.TenantID
	if body.TenantID != "" && body.TenantID != tc.TenantID {
		if !h.isGlobalAdmin(c, tc) {
			h.recorder.LogCrossTenantAccessAttempt(c.Request.Context(), tc, map[string]any{
				"method":   c.Request.Method,
				"path":     c.Request.URL.Path,
				"tenantId": body.TenantID,
			})
			abort(c, tenantauth.ErrCrossTenantBlocked, "cannot log events for another tenant")
			return
		}
		tenantID = body.TenantID
	}

	success := true
	if body.Success != nil {
		success = *body.Success
	}
	severity := tenantauth.AuditSeverity(body.Severity)
	if severity == "" {
		severity = tenantauth.SeverityInfo
	}

	h.recorder.Log(c.Request.Context(), tenantauth.AuditEvent{
		SubjectID:    tc.SubjectID,
		TenantID:     tenantID,
		Action:       tenantauth.AuditAction(body.Action),
		ResourceType: tenantauth.ResourceType(body.ResourceType),
		ResourceID:   body.ResourceID,
		Success:      success,
		Severity:     severity,
		Details:      body.Details,
		TraceID:      tc.TraceID,
		IP:           c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "logged"})
}

func (h *Handler) isGlobalAdmin(c *gin.Context, tc *tenantauth.TenantContext) bool {
	ok, err := h.roles.HasGlobalRole(c.Request.Context(), tc.SubjectID)
	if err != nil {
		h.logger.Error("global role lookup failed", "subject_id", tc.SubjectID, "error", err)
		return false
	}
	return ok
}

func abort(c *gin.Context, err error, message string) {
	c.AbortWithStatusJSON(tenantauth.StatusFor(err), tenantauth.NewAPIError(err, message, nil))
}

func intQuery(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return v
}

func timeQuery(c *gin.Context, name string) (time.Time, bool) {
	s := c.Query(name)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
