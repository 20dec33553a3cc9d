package goals

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/perfdesk/perfdesk/internal/platform/httpx"
	"github.com/perfdesk/perfdesk/internal/shared"
)

// Handler exposes the goal engine over JSON.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	validate    *validator.Validate
	idempotency *shared.IdempotencyStore
	hierarchy   singleflight.Group
}

// NewHandler constructs the goals HTTP handler. The idempotency store is
// optional; when present, freeze and unfreeze honor Idempotency-Key.
func NewHandler(logger *slog.Logger, service *Service, idempotency *shared.IdempotencyStore) *Handler {
	return &Handler{
		logger:      logger,
		service:     service,
		validate:    validator.New(),
		idempotency: idempotency,
	}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateGoalRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	goal, err := h.service.CreateGoal(r.Context(), req.Draft(), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, goal)
}

func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignGoalRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	goal, err := h.service.AssignGoal(r.Context(), req.Draft(), req.SuperviseeID, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, goal)
}

func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	id, ok := h.goalID(w, r)
	if !ok {
		return
	}
	var req RespondRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	goal, err := h.service.RespondToAssignment(r.Context(), id, req.Accept, req.Message, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, goal)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := h.goalID(w, r)
	if !ok {
		return
	}
	var req ApprovalRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	var goal *Goal
	var err error
	if req.Approved {
		goal, err = h.service.ApproveGoal(r.Context(), id, actor)
	} else {
		goal, err = h.service.RejectGoal(r.Context(), id, req.RejectionReason, actor)
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, goal)
}

func (h *Handler) Revise(w http.ResponseWriter, r *http.Request) {
	id, ok := h.goalID(w, r)
	if !ok {
		return
	}
	var req CreateGoalRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	goal, err := h.service.ReviseGoal(r.Context(), id, req.Draft(), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, goal)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.goalID(w, r)
	if !ok {
		return
	}
	var req UpdateGoalRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	goal, err := h.service.UpdateGoal(r.Context(), id, GoalEdit{
		Title:       req.Title,
		Description: req.Description,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
	}, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, goal)
}

func (h *Handler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := h.goalID(w, r)
	if !ok {
		return
	}
	var req ProgressUpdateRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	result, err := h.service.UpdateProgress(r.Context(), id, req.NewPercentage, req.Report, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"goal":                 result.Goal,
		"report":               result.Report,
		"achievement_eligible": result.AchievementEligible,
	})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.goalID(w, r)
	if !ok {
		return
	}
	var req StatusUpdateRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	var goal *Goal
	var err error
	switch req.Status {
	case StatusAchieved:
		goal, err = h.service.MarkAchieved(r.Context(), id, actor)
	case StatusDiscarded:
		goal, err = h.service.DiscardGoal(r.Context(), id, actor)
	default:
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "status must be ACHIEVED or DISCARDED")
		return
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, goal)
}

func (h *Handler) Reparent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.goalID(w, r)
	if !ok {
		return
	}
	var req ReparentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	goal, err := h.service.Reparent(r.Context(), id, req.ParentGoalID, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, goal)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.goalID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteGoal(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "goal deleted"})
}

func (h *Handler) FreezeQuarter(w http.ResponseWriter, r *http.Request) {
	var req FreezeQuarterRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	key, release, ok := h.claimIdempotency(w, r, "goals.freeze")
	if !ok {
		return
	}
	log, err := h.service.FreezeQuarter(r.Context(), req.Quarter, req.Year, req.ScheduledUnfreezeAt, shared.ActorFromContext(r.Context()))
	if err != nil {
		release(key)
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, FreezeQuarterResponse{AffectedCount: log.AffectedGoalsCount, Log: *log})
}

func (h *Handler) UnfreezeQuarter(w http.ResponseWriter, r *http.Request) {
	var req UnfreezeQuarterRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	key, release, ok := h.claimIdempotency(w, r, "goals.unfreeze")
	if !ok {
		return
	}
	log, err := h.service.UnfreezeQuarter(r.Context(), req.Quarter, req.Year, UnfreezeOptions{
		EmergencyOverride: req.EmergencyOverride,
		Reason:            req.EmergencyReason,
	}, shared.ActorFromContext(r.Context()))
	if err != nil {
		release(key)
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, FreezeQuarterResponse{AffectedCount: log.AffectedGoalsCount, Log: *log})
}

func (h *Handler) FreezeLogs(w http.ResponseWriter, r *http.Request) {
	var quarter *Quarter
	if qs := r.URL.Query().Get("quarter"); qs != "" {
		q := Quarter(qs)
		if !q.Valid() {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unknown quarter")
			return
		}
		quarter = &q
	}
	var year *int
	if ys := r.URL.Query().Get("year"); ys != "" {
		y, err := strconv.Atoi(ys)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid year")
			return
		}
		year = &y
	}
	logs, err := h.service.ListFreezeLogs(r.Context(), quarter, year)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, logs)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.goalID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.GetGoalDetail(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	goals, err := h.service.ListGoals(r.Context(), h.listFilter(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, GoalListResponse{Goals: goals, Total: len(goals)})
}

// SuperviseeGoals lists goals owned by the caller's direct reports.
func (h *Handler) SuperviseeGoals(w http.ResponseWriter, r *http.Request) {
	filter := h.listFilter(r)
	goals, err := h.service.ListSuperviseeGoals(r.Context(), shared.ActorFromContext(r.Context()), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, GoalListResponse{Goals: goals, Total: len(goals)})
}

func (h *Handler) Children(w http.ResponseWriter, r *http.Request) {
	id, ok := h.goalID(w, r)
	if !ok {
		return
	}
	children, err := h.service.ListChildren(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, children)
}

// Hierarchy collapses concurrent identical tree reads through
// singleflight; the tree walk fans out one query per node. The walk runs
// detached from the leader's request context, since its result is shared
// with waiters whose requests are still live.
func (h *Handler) Hierarchy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.goalID(w, r)
	if !ok {
		return
	}
	ctx := context.WithoutCancel(r.Context())
	v, err, _ := h.hierarchy.Do(id.String(), func() (any, error) {
		return h.service.GetHierarchy(ctx, id)
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) ProgressReports(w http.ResponseWriter, r *http.Request) {
	id, ok := h.goalID(w, r)
	if !ok {
		return
	}
	reports, err := h.service.ListProgressReports(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, reports)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats(r.Context(), h.service.now())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) listFilter(r *http.Request) ListFilter {
	var filter ListFilter
	if ks := r.URL.Query().Get("kind"); ks != "" {
		k := GoalKind(ks)
		filter.Kind = &k
	}
	if ss := r.URL.Query().Get("status"); ss != "" {
		s := GoalStatus(ss)
		filter.Status = &s
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit <= 100 {
		filter.Limit = limit
	} else {
		filter.Limit = 50
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && offset > 0 {
		filter.Offset = offset
	}
	return filter
}

func (h *Handler) goalID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid goal id")
		return uuid.Nil, false
	}
	return id, true
}

// claimIdempotency claims the request's Idempotency-Key, when the header
// is present and a store is configured. The returned release rolls the
// claim back so a failed request can be retried with the same key.
func (h *Handler) claimIdempotency(w http.ResponseWriter, r *http.Request, scope string) (string, func(string), bool) {
	noop := func(string) {}
	if h.idempotency == nil {
		return "", noop, true
	}
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		return "", noop, true
	}
	if err := h.idempotency.CheckAndInsert(r.Context(), key, scope); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			httpx.Problem(w, http.StatusConflict, "Duplicate Request", "idempotency key already processed")
			return "", noop, false
		}
		h.respondError(w, err)
		return "", noop, false
	}
	release := func(k string) {
		if err := h.idempotency.Delete(r.Context(), k); err != nil {
			h.logger.Warn("release idempotency key", slog.Any("error", err))
		}
	}
	return key, release, true
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	return h.validate.Struct(target)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var (
		validationErr *ValidationError
		transitionErr *InvalidTransitionError
		frozenErr     *FrozenGoalError
		cycleErr      *CycleDetectedError
	)
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrPermissionDenied):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrDuplicateAssignment):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.As(err, &frozenErr):
		httpx.Problem(w, http.StatusLocked, "Goal Frozen", err.Error())
	case errors.As(err, &cycleErr):
		httpx.Problem(w, http.StatusConflict, "Cycle Detected", err.Error())
	case errors.As(err, &validationErr):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.As(err, &transitionErr):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	default:
		h.logger.Error("goal operation failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
