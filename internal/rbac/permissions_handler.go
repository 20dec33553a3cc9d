package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/perfdesk/perfdesk/internal/goals"
	"github.com/perfdesk/perfdesk/internal/platform/httpx"
	"github.com/perfdesk/perfdesk/internal/shared"
)

// Catalog lists every permission the goal engine consults, for admin UIs
// that assign roles.
var Catalog = []string{
	goals.PermGoalCreateOrganizational,
	goals.PermGoalCreateDepartmental,
	goals.PermGoalApprove,
	goals.PermGoalEdit,
	goals.PermGoalProgressUpdate,
	goals.PermGoalStatusChange,
	goals.PermGoalFreeze,
	goals.PermGoalViewAll,
}

// PermissionsHandler serves the permission catalog and the caller's own
// effective permissions.
type PermissionsHandler struct {
	source PermissionSource
}

// NewPermissionsHandler builds a PermissionsHandler.
func NewPermissionsHandler(source PermissionSource) *PermissionsHandler {
	return &PermissionsHandler{source: source}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/permissions", h.listCatalog)
	r.Get("/permissions/mine", h.listMine)
}

func (h *PermissionsHandler) listCatalog(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": Catalog})
}

func (h *PermissionsHandler) listMine(w http.ResponseWriter, r *http.Request) {
	actorID := shared.ActorFromContext(r.Context())
	if actorID == uuid.Nil {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "no actor")
		return
	}
	granted, err := h.source.EffectivePermissions(r.Context(), actorID)
	if err != nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if granted == nil {
		granted = []string{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": granted})
}
