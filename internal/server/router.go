package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DaybreakLabs/daybreak/backend/internal/fires"
	"github.com/DaybreakLabs/daybreak/backend/internal/priorities"
	"github.com/DaybreakLabs/daybreak/backend/internal/recommend"
	"github.com/DaybreakLabs/daybreak/backend/internal/sweeper"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const ownerIDContextKey = "daybreak_owner_id"

var (
	errMissingTokenVerifier     = errors.New("token verifier dependency required")
	errMissingPrioritiesService = errors.New("priorities service dependency required")
	errMissingRecommender       = errors.New("recommender dependency required")
	errMissingFiresService      = errors.New("fires service dependency required")
	errMissingSweeper           = errors.New("sweeper dependency required")
	errInvalidAuthorization     = errors.New("authorization header missing or invalid")
)

// TokenVerifier validates a bearer token and returns the owner identifier.
type TokenVerifier interface {
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	TokenVerifier TokenVerifier
	Priorities    *priorities.Service
	Recommender   *recommend.Service
	Fires         *fires.Service
	Sweeper       *sweeper.Sweeper
	Realtime      *RealtimeDispatcher
	Logger        *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenVerifier == nil {
		return nil, errMissingTokenVerifier
	}
	if deps.Priorities == nil {
		return nil, errMissingPrioritiesService
	}
	if deps.Recommender == nil {
		return nil, errMissingRecommender
	}
	if deps.Fires == nil {
		return nil, errMissingFiresService
	}
	if deps.Sweeper == nil {
		return nil, errMissingSweeper
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:    deps.TokenVerifier,
		priorities:  deps.Priorities,
		recommender: deps.Recommender,
		fires:       deps.Fires,
		sweeper:     deps.Sweeper,
		realtime:    realtime,
		logger:      logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/priorities", handler.handleListPriorities)
	protected.POST("/priorities", handler.handleCreatePriority)
	protected.DELETE("/priorities/:id", handler.handleSoftDelete)
	protected.POST("/priorities/:id/restore", handler.handleRestore)
	protected.DELETE("/priorities/:id/permanent", handler.handlePermanentDelete)
	protected.POST("/priorities/regenerate", handler.handleRegenerate)
	protected.POST("/priorities/fires/sync", handler.handleFiresSync)
	protected.GET("/priorities/events", handler.handleEvents)
	protected.POST("/admin/purge", handler.handlePurge)

	return router, nil
}

type httpHandler struct {
	verifier    TokenVerifier
	priorities  *priorities.Service
	recommender *recommend.Service
	fires       *fires.Service
	sweeper     *sweeper.Sweeper
	realtime    *RealtimeDispatcher
	logger      *zap.Logger
}

type priorityPayload struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	Source           string `json:"source"`
	OriginType       string `json:"origin_type,omitempty"`
	OriginRef        string `json:"origin_ref,omitempty"`
	Score            int    `json:"score"`
	ManualOrder      *int   `json:"manual_order,omitempty"`
	State            string `json:"state"`
	DeletedAtSeconds *int64 `json:"deleted_at_s,omitempty"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

func toPriorityPayload(record priorities.Priority) priorityPayload {
	return priorityPayload{
		ID:               record.ID,
		Title:            record.Title,
		Description:      record.Description,
		Source:           string(record.Source),
		OriginType:       record.OriginType,
		OriginRef:        record.OriginRef,
		Score:            record.Score,
		ManualOrder:      record.ManualOrder,
		State:            string(record.State),
		DeletedAtSeconds: record.DeletedAtSeconds,
		CreatedAtSeconds: record.CreatedAtSeconds,
		UpdatedAtSeconds: record.UpdatedAtSeconds,
	}
}

func (h *httpHandler) handleListPriorities(c *gin.Context) {
	ownerID, ok := h.ownerFromContext(c)
	if !ok {
		return
	}

	records, err := h.priorities.ListActive(c.Request.Context(), ownerID)
	if err != nil {
		h.logger.Error("failed to list priorities", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_unavailable"})
		return
	}

	payloads := make([]priorityPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, toPriorityPayload(record))
	}
	c.JSON(http.StatusOK, gin.H{"priorities": payloads})
}

type createPriorityPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Score       int    `json:"score"`
	ManualOrder *int   `json:"manual_order"`
}

func (h *httpHandler) handleCreatePriority(c *gin.Context) {
	ownerID, ok := h.ownerFromContext(c)
	if !ok {
		return
	}

	var request createPriorityPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.priorities.Create(c.Request.Context(), ownerID, priorities.CreateInput{
		Title:       request.Title,
		Description: request.Description,
		Score:       request.Score,
		ManualOrder: request.ManualOrder,
	})
	if err != nil {
		if errors.Is(err, priorities.ErrInvalidTitle) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		h.logger.Error("failed to create priority", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_unavailable"})
		return
	}

	h.publishChange(ownerID, ChangeReasonCreated, record.ID)
	c.JSON(http.StatusCreated, toPriorityPayload(record))
}

func (h *httpHandler) handleSoftDelete(c *gin.Context) {
	ownerID, ok := h.ownerFromContext(c)
	if !ok {
		return
	}
	priorityID, err := priorities.NewPriorityID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.priorities.SoftDelete(c.Request.Context(), priorityID, ownerID)
	if err != nil {
		h.respondLifecycleError(c, err, "soft delete failed")
		return
	}

	h.publishChange(ownerID, ChangeReasonDeleted, record.ID)
	c.JSON(http.StatusOK, toPriorityPayload(record))
}

func (h *httpHandler) handleRestore(c *gin.Context) {
	ownerID, ok := h.ownerFromContext(c)
	if !ok {
		return
	}
	priorityID, err := priorities.NewPriorityID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.priorities.Restore(c.Request.Context(), priorityID, ownerID)
	if err != nil {
		h.respondLifecycleError(c, err, "restore failed")
		return
	}

	h.publishChange(ownerID, ChangeReasonRestored, record.ID)
	c.JSON(http.StatusOK, toPriorityPayload(record))
}

func (h *httpHandler) handlePermanentDelete(c *gin.Context) {
	ownerID, ok := h.ownerFromContext(c)
	if !ok {
		return
	}
	priorityID, err := priorities.NewPriorityID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.priorities.PermanentDelete(c.Request.Context(), priorityID, ownerID); err != nil {
		h.respondLifecycleError(c, err, "permanent delete failed")
		return
	}

	h.publishChange(ownerID, ChangeReasonPurged, priorityID.String())
	c.Status(http.StatusNoContent)
}

type regenerateRequestPayload struct {
	Goals []struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Category string `json:"category"`
		Progress int    `json:"progress"`
	} `json:"goals"`
	Tasks []struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		GoalID  string `json:"goal_id"`
		DueDays int    `json:"due_in_days"`
	} `json:"tasks"`
	Habits []struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		StreakDays int    `json:"streak_days"`
	} `json:"habits"`
	Priorities []struct {
		Title  string `json:"title"`
		Source string `json:"source"`
		Score  int    `json:"score"`
	} `json:"priorities"`
}

func (p regenerateRequestPayload) toSummary() recommend.Summary {
	summary := recommend.Summary{}
	for _, goal := range p.Goals {
		summary.Goals = append(summary.Goals, recommend.GoalSummary{
			ID: goal.ID, Title: goal.Title, Category: goal.Category, Progress: goal.Progress,
		})
	}
	for _, task := range p.Tasks {
		summary.Tasks = append(summary.Tasks, recommend.TaskSummary{
			ID: task.ID, Title: task.Title, GoalID: task.GoalID, DueDays: task.DueDays,
		})
	}
	for _, habit := range p.Habits {
		summary.Habits = append(summary.Habits, recommend.HabitSummary{
			ID: habit.ID, Title: habit.Title, StreakDays: habit.StreakDays,
		})
	}
	for _, priority := range p.Priorities {
		summary.Priorities = append(summary.Priorities, recommend.PrioritySummary{
			Title: priority.Title, Source: priority.Source, Score: priority.Score,
		})
	}
	return summary
}

func (h *httpHandler) handleRegenerate(c *gin.Context) {
	ownerID, ok := h.ownerFromContext(c)
	if !ok {
		return
	}

	var request regenerateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.recommender.Regenerate(c.Request.Context(), ownerID, request.toSummary())
	if err != nil {
		switch {
		case errors.Is(err, priorities.ErrNoCandidates):
			// The previous batch is already removed; make that explicit so the
			// caller never assumes stale recommendations survived.
			c.JSON(http.StatusBadGateway, gin.H{
				"error":            "no_candidates",
				"ai_batch_emptied": true,
				"removed":          result.Removed,
			})
		case errors.Is(err, recommend.ErrUpstreamMalformed):
			c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_malformed", "ai_batch_emptied": false})
		case errors.Is(err, recommend.ErrUpstreamUnavailable):
			c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_unavailable", "ai_batch_emptied": false})
		default:
			h.logger.Error("regeneration failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_unavailable"})
		}
		return
	}

	ids := make([]string, 0, len(result.Inserted))
	payloads := make([]priorityPayload, 0, len(result.Inserted))
	for _, record := range result.Inserted {
		ids = append(ids, record.ID)
		payloads = append(payloads, toPriorityPayload(record))
	}
	h.publishChange(ownerID, ChangeReasonReplaced, ids...)

	c.JSON(http.StatusOK, gin.H{
		"priorities": payloads,
		"dropped":    result.Dropped,
		"removed":    result.Removed,
	})
}

type firesSyncRequestPayload struct {
	Entities []struct {
		ID          string `json:"id"`
		Kind        string `json:"kind"`
		Category    string `json:"category"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Score       int    `json:"score"`
	} `json:"entities"`
}

func (h *httpHandler) handleFiresSync(c *gin.Context) {
	ownerID, ok := h.ownerFromContext(c)
	if !ok {
		return
	}

	var request firesSyncRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entities := make([]fires.Entity, 0, len(request.Entities))
	for _, entity := range request.Entities {
		entities = append(entities, fires.Entity{
			ID:          entity.ID,
			Kind:        entity.Kind,
			Category:    entity.Category,
			Title:       entity.Title,
			Description: entity.Description,
			Score:       entity.Score,
		})
	}

	result, err := h.fires.Sync(c.Request.Context(), ownerID, entities)
	if err != nil {
		h.logger.Error("fires sync failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_unavailable"})
		return
	}

	h.publishChange(ownerID, ChangeReasonFiresSync)
	c.JSON(http.StatusOK, gin.H{
		"created": result.Created,
		"updated": result.Updated,
		"skipped": result.Skipped,
	})
}

func (h *httpHandler) handlePurge(c *gin.Context) {
	purged, err := h.sweeper.RunOnce(c.Request.Context())
	if err != nil {
		h.logger.Error("on-demand purge failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": purged})
}

type realtimeEventPayload struct {
	Event       string   `json:"event"`
	Reason      string   `json:"reason,omitempty"`
	PriorityIDs []string `json:"priority_ids,omitempty"`
	Source      string   `json:"source"`
	TimestampMS int64    `json:"timestamp_ms"`
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	ownerID := c.GetString(ownerIDContextKey)
	if ownerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	stream, cleanup := h.realtime.Subscribe(c.Request.Context(), ownerID)
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case message, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				Event:       message.EventType,
				Reason:      message.Reason,
				PriorityIDs: message.PriorityIDs,
				Source:      realtimeSourceBackend,
				TimestampMS: message.Timestamp.UnixMilli(),
			})
			return true
		}
	})
}

func (h *httpHandler) publishChange(ownerID priorities.OwnerID, reason string, ids ...string) {
	h.realtime.Publish(RealtimeMessage{
		OwnerID:     ownerID.String(),
		EventType:   RealtimeEventPrioritiesChanged,
		Reason:      reason,
		PriorityIDs: ids,
		Timestamp:   time.Now().UTC(),
	})
}

func (h *httpHandler) respondLifecycleError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, priorities.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, priorities.ErrNotRestorable):
		c.JSON(http.StatusConflict, gin.H{"error": "not_restorable"})
	case errors.Is(err, priorities.ErrNotSoftDeleted):
		c.JSON(http.StatusConflict, gin.H{"error": "not_soft_deleted"})
	default:
		h.logger.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_unavailable"})
	}
}

func (h *httpHandler) ownerFromContext(c *gin.Context) (priorities.OwnerID, bool) {
	ownerID, err := priorities.NewOwnerID(c.GetString(ownerIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return ownerID, true
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.verifier.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(ownerIDContextKey, subject)
	c.Next()
}
