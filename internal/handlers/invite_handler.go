package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Dolpheyn/splitje-be/internal/models"
	"github.com/Dolpheyn/splitje-be/internal/services"
)

type InviteHandler struct {
	invites   *services.InviteService
	groups    *services.GroupService
	validator *services.ValidationHelper
}

func NewInviteHandler(invites *services.InviteService, groups *services.GroupService) *InviteHandler {
	return &InviteHandler{
		invites:   invites,
		groups:    groups,
		validator: services.NewValidationHelper(),
	}
}

// CreateInvite issues a one-time invite code for a group
// @Summary Create an invite
// @Description Issue a single-use invite code for a group, rendered as a QR image
// @Tags invites
// @Produce json
// @Security BearerAuth
// @Param groupId path string true "Group ID"
// @Success 200 {object} object{code=string,qrImage=string}
// @Failure 401 {object} services.ErrorResponse
// @Router /groups/{groupId}/invites [post]
func (h *InviteHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	groupID := chi.URLParam(r, "groupId")

	code, qrImage, err := h.invites.CreateInvite(r.Context(), groupID, userID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"code":    code,
		"qrImage": qrImage,
	})
}

// JoinByInvite consumes an invite code and joins the caller to its group
// @Summary Join a group by invite code
// @Tags invites
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{code=string} true "Invite code"
// @Success 200 {object} services.GroupBody[models.Group]
// @Failure 404 {object} services.ErrorResponse
// @Router /groups/join [post]
func (h *InviteHandler) JoinByInvite(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Code string `json:"code" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	groupID, err := h.invites.ResolveInvite(r.Context(), req.Code)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			services.SendErrorResponse(w, "Invalid or expired invite code", http.StatusNotFound, nil)
		} else {
			services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		}
		return
	}

	group, err := h.groups.Join(groupID, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			services.SendErrorResponse(w, "Group not found", http.StatusNotFound, nil)
		} else {
			services.SendErrorResponse(w, "Failed to join group", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(services.GroupBody[*models.Group]{Group: group})
}
