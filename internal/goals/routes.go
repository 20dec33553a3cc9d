package goals

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Guard provides route-level permission middleware. Operations that also
// need relationship checks (supervisor, owner) enforce those in the
// service on top of the coarse route gate.
type Guard interface {
	RequireAny(perms ...string) func(http.Handler) http.Handler
	RequireAll(perms ...string) func(http.Handler) http.Handler
}

func (h *Handler) MountRoutes(r chi.Router, guard Guard) {
	r.Get("/goals", h.List)
	r.Get("/goals/supervisees", h.SuperviseeGoals)
	r.Get("/goals/stats", h.Stats)
	r.Get("/goals/freeze-logs", h.FreezeLogs)
	r.Get("/goals/{id}", h.Show)
	r.Get("/goals/{id}/children", h.Children)
	r.Get("/goals/{id}/hierarchy", h.Hierarchy)
	r.Get("/goals/{id}/progress-reports", h.ProgressReports)

	// Creation, approval, responses and progress stay open routes; the
	// engine decides per kind and relationship who may act. Approval in
	// particular admits supervisors who hold no standing permission.
	r.Post("/goals", h.Create)
	r.Post("/goals/assign", h.Assign)
	r.Post("/goals/{id}/respond", h.Respond)
	r.Post("/goals/{id}/approve", h.Approve)
	r.Post("/goals/{id}/revise", h.Revise)
	r.Put("/goals/{id}", h.Update)
	r.Put("/goals/{id}/progress", h.UpdateProgress)
	r.Put("/goals/{id}/status", h.UpdateStatus)
	r.Delete("/goals/{id}", h.Delete)

	r.Group(func(r chi.Router) {
		r.Use(guard.RequireAll(PermGoalEdit))
		r.Put("/goals/{id}/parent", h.Reparent)
	})
	r.Group(func(r chi.Router) {
		r.Use(guard.RequireAll(PermGoalFreeze))
		r.Post("/goals/freeze-quarter", h.FreezeQuarter)
		r.Post("/goals/unfreeze-quarter", h.UnfreezeQuarter)
	})
}
