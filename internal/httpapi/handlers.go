package httpapi

import (
	"net/http"
	"time"

	"consult-platform/internal/audit"
	"consult-platform/internal/auth"
	"consult-platform/internal/calls"
	"consult-platform/internal/rbac"
	"consult-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth    *auth.Manager
	Calls   *calls.Service
	Audit   *audit.Service
	Reports *reporting.Service
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required,oneof=subscriber provider coordinator admin"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h Handlers) Me(c *gin.Context) {
	id := identityOf(c)
	c.JSON(http.StatusOK, gin.H{"user_id": id.userID, "role": id.role})
}

// --- ownership ---

// canAccess reports whether the caller may act on call.
func (id identity) canAccess(call *calls.CallRequest) bool {
	switch {
	case rbac.CanManageCalls(id.role):
		return true
	case id.role == rbac.RoleSubscriber:
		return call.SubscriberID == id.userID
	case id.role == rbac.RoleProvider:
		return call.AssignedProviderID != nil && *call.AssignedProviderID == id.userID
	default:
		return false
	}
}

// canActFor reports whether the caller may read data keyed by a subscriber or provider id.
func (id identity) canActFor(role, ownerID string) bool {
	return rbac.CanManageCalls(id.role) || (id.role == role && id.userID == ownerID)
}

// loadOwned fetches the call named by :id and checks the caller may touch it.
// It writes the response and returns false when the request must stop.
func (h Handlers) loadOwned(c *gin.Context) (*calls.CallRequest, bool) {
	call, err := h.Calls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if !identityOf(c).canAccess(call) {
		// Hide existence from callers who cannot see the call.
		writeError(c, &calls.NotFoundError{Entity: "call request", ID: call.ID})
		return nil, false
	}
	return call, true
}

func respond(c *gin.Context, call *calls.CallRequest, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// --- calls ---

type createCallRequest struct {
	SubscriberID     string     `json:"subscriber_id"`
	Purpose          string     `json:"purpose" binding:"required"`
	ConsultationType string     `json:"consultation_type" binding:"required"`
	PreferredDate    *time.Time `json:"preferred_date"`
	PreferredTime    *string    `json:"preferred_time"`
}

func (h Handlers) CreateCall(c *gin.Context) {
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	id := identityOf(c)
	subscriberID := req.SubscriberID
	switch {
	case id.role == rbac.RoleSubscriber:
		if subscriberID != "" && subscriberID != id.userID {
			forbidden(c)
			return
		}
		subscriberID = id.userID
	case subscriberID == "":
		badRequest(c, "subscriber_id required")
		return
	}

	call, err := h.Calls.Create(c.Request.Context(), calls.CreateParams{
		SubscriberID:     subscriberID,
		Purpose:          req.Purpose,
		ConsultationType: req.ConsultationType,
		PreferredDate:    req.PreferredDate,
		PreferredTime:    req.PreferredTime,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

func (h Handlers) GetCall(c *gin.Context) {
	call, ok := h.loadOwned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call, "next_statuses": calls.NextPossible(call.Status)})
}

type pageQuery struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

func (q pageQuery) page() calls.Page { return calls.Page{Limit: q.Limit, Offset: q.Offset} }

func (h Handlers) CallHistory(c *gin.Context) {
	if _, ok := h.loadOwned(c); !ok {
		return
	}
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	entries, total, err := h.Calls.History(c.Request.Context(), c.Param("id"), q.page())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries, "total": total})
}

func (h Handlers) LatestStatusChange(c *gin.Context) {
	if _, ok := h.loadOwned(c); !ok {
		return
	}
	entry, err := h.Calls.LatestStatusChange(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

type assignRequest struct {
	ProviderID string `json:"provider_id" binding:"required"`
	Reason     string `json:"reason"`
}

func (h Handlers) AssignProvider(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	call, err := h.Calls.AssignProvider(c.Request.Context(), c.Param("id"), req.ProviderID, req.Reason)
	respond(c, call, err)
}

type scheduleRequest struct {
	ScheduledAt     time.Time `json:"scheduled_at" binding:"required"`
	DurationMinutes int       `json:"duration_minutes" binding:"required,min=1"`
	Platform        *string   `json:"platform"`
	CallLink        *string   `json:"call_link"`
}

func (h Handlers) Schedule(c *gin.Context) {
	if _, ok := h.loadOwned(c); !ok {
		return
	}
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	platform, err := parsePlatform(req.Platform)
	if err != nil {
		writeError(c, err)
		return
	}
	call, err := h.Calls.Schedule(c.Request.Context(), c.Param("id"), calls.ScheduleParams{
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Platform:        platform,
		CallLink:        req.CallLink,
	})
	respond(c, call, err)
}

type rescheduleRequest struct {
	ScheduledAt     time.Time `json:"scheduled_at" binding:"required"`
	DurationMinutes *int      `json:"duration_minutes" binding:"omitempty,min=1"`
	Reason          *string   `json:"reason"`
}

func (h Handlers) Reschedule(c *gin.Context) {
	if _, ok := h.loadOwned(c); !ok {
		return
	}
	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	call, err := h.Calls.Reschedule(c.Request.Context(), c.Param("id"), calls.RescheduleParams{
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Reason:          req.Reason,
	})
	respond(c, call, err)
}

func (h Handlers) StartCall(c *gin.Context) {
	if _, ok := h.loadOwned(c); !ok {
		return
	}
	call, err := h.Calls.StartCall(c.Request.Context(), c.Param("id"))
	respond(c, call, err)
}

type endRequest struct {
	RecordingURL *string `json:"recording_url" binding:"omitempty,url"`
}

func (h Handlers) EndCall(c *gin.Context) {
	if _, ok := h.loadOwned(c); !ok {
		return
	}
	var req endRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	call, err := h.Calls.EndCall(c.Request.Context(), c.Param("id"), req.RecordingURL)
	respond(c, call, err)
}

type reasonRequest struct {
	Reason *string `json:"reason"`
}

func (h Handlers) bindReason(c *gin.Context) (*string, bool) {
	var req reasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return nil, false
		}
	}
	return req.Reason, true
}

func (h Handlers) Cancel(c *gin.Context) {
	if _, ok := h.loadOwned(c); !ok {
		return
	}
	reason, ok := h.bindReason(c)
	if !ok {
		return
	}
	call, err := h.Calls.Cancel(c.Request.Context(), c.Param("id"), reason)
	respond(c, call, err)
}

func (h Handlers) MarkNoShow(c *gin.Context) {
	if _, ok := h.loadOwned(c); !ok {
		return
	}
	reason, ok := h.bindReason(c)
	if !ok {
		return
	}
	msg := ""
	if reason != nil {
		msg = *reason
	}
	call, err := h.Calls.MarkNoShow(c.Request.Context(), c.Param("id"), msg)
	respond(c, call, err)
}

type linkRequest struct {
	CallLink string  `json:"call_link" binding:"required"`
	Platform *string `json:"platform"`
}

func (h Handlers) UpdateCallLink(c *gin.Context) {
	if _, ok := h.loadOwned(c); !ok {
		return
	}
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	platform, err := parsePlatform(req.Platform)
	if err != nil {
		writeError(c, err)
		return
	}
	call, err := h.Calls.UpdateCallLink(c.Request.Context(), c.Param("id"), req.CallLink, platform)
	respond(c, call, err)
}

type detailsRequest struct {
	Purpose          *string    `json:"purpose"`
	ConsultationType *string    `json:"consultation_type"`
	PreferredDate    *time.Time `json:"preferred_date"`
	PreferredTime    *string    `json:"preferred_time"`
}

func (h Handlers) UpdateDetails(c *gin.Context) {
	if _, ok := h.loadOwned(c); !ok {
		return
	}
	var req detailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	call, err := h.Calls.UpdateDetails(c.Request.Context(), c.Param("id"), calls.DetailsParams{
		Purpose:          req.Purpose,
		ConsultationType: req.ConsultationType,
		PreferredDate:    req.PreferredDate,
		PreferredTime:    req.PreferredTime,
	})
	respond(c, call, err)
}

func (h Handlers) DeleteCall(c *gin.Context) {
	if err := h.Calls.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parsePlatform(v *string) (*calls.Platform, error) {
	if v == nil {
		return nil, nil
	}
	p, err := calls.ParsePlatform(*v)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// --- listings ---

type rangeQuery struct {
	From time.Time `form:"from" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	To   time.Time `form:"to" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
}

func (q rangeQuery) timeRange() calls.TimeRange { return calls.TimeRange{From: q.From, To: q.To} }

func (h Handlers) SubscriberCalls(c *gin.Context) {
	subscriberID := c.Param("id")
	if !identityOf(c).canActFor(rbac.RoleSubscriber, subscriberID) {
		forbidden(c)
		return
	}
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	items, total, err := h.Calls.ListBySubscriber(c.Request.Context(), subscriberID, q.page())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

func (h Handlers) SubscriberMinutes(c *gin.Context) {
	subscriberID := c.Param("id")
	if !identityOf(c).canActFor(rbac.RoleSubscriber, subscriberID) {
		forbidden(c)
		return
	}
	var q rangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	out, err := h.Calls.TotalCallMinutes(c.Request.Context(), subscriberID, q.timeRange())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) SubscriberSummary(c *gin.Context) {
	subscriberID := c.Param("id")
	if !identityOf(c).canActFor(rbac.RoleSubscriber, subscriberID) {
		forbidden(c)
		return
	}
	var q rangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		SubscriberID: subscriberID,
		Range:        reporting.TimeRange{From: q.From, To: q.To},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) ProviderCalls(c *gin.Context) {
	providerID := c.Param("id")
	if !identityOf(c).canActFor(rbac.RoleProvider, providerID) {
		forbidden(c)
		return
	}
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	items, total, err := h.Calls.ListByProvider(c.Request.Context(), providerID, q.page())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

type upcomingQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

func (h Handlers) ProviderUpcoming(c *gin.Context) {
	providerID := c.Param("id")
	if !identityOf(c).canActFor(rbac.RoleProvider, providerID) {
		forbidden(c)
		return
	}
	var q upcomingQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	if q.Limit == 0 {
		q.Limit = 10
	}
	items, err := h.Calls.UpcomingForProvider(c.Request.Context(), providerID, q.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type availabilityQuery struct {
	Start           time.Time `form:"start" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	DurationMinutes int       `form:"duration_minutes" binding:"required,min=1"`
	ExcludeID       string    `form:"exclude_id"`
}

// ProviderAvailability is open to any authenticated caller; it reveals only conflicting ids.
func (h Handlers) ProviderAvailability(c *gin.Context) {
	var q availabilityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	out, err := h.Calls.CheckAvailability(c.Request.Context(), calls.ConflictQuery{
		ProviderID:      c.Param("id"),
		Start:           q.Start,
		DurationMinutes: q.DurationMinutes,
		ExcludeID:       q.ExcludeID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) ProviderLoad(c *gin.Context) {
	providerID := c.Param("id")
	if !identityOf(c).canActFor(rbac.RoleProvider, providerID) {
		forbidden(c)
		return
	}
	var q rangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	out, err := h.Reports.ProviderLoad(c.Request.Context(), reporting.ProviderLoadRequest{
		ProviderID: providerID,
		Range:      reporting.TimeRange{From: q.From, To: q.To},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type scheduledQuery struct {
	rangeQuery
	ProviderID string `form:"provider_id"`
}

func (h Handlers) ScheduledCalls(c *gin.Context) {
	var q scheduledQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	var provider *string
	if q.ProviderID != "" {
		provider = &q.ProviderID
	}
	items, err := h.Calls.ScheduledCalls(c.Request.Context(), q.timeRange(), provider)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h Handlers) OverdueCalls(c *gin.Context) {
	items, err := h.Calls.OverdueCalls(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// --- admin ---

type purgeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// PurgeHistory removes a call's audit trail. RBAC: admin only.
func (h Handlers) PurgeHistory(c *gin.Context) {
	var req purgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	n, err := h.Audit.Purge(c.Request.Context(), c.Param("id"), identityOf(c).userID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": n})
}
