package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Dolpheyn/splitje-be/internal/models"
)

type GroupService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
}

type NewGroup struct {
	Name string `json:"name" validate:"required,min=2,max=80"`
}

// GroupBody wraps every group request/response body.
type GroupBody[T any] struct {
	Group T `json:"group"`
}

func NewGroupService(db *sql.DB, ledger *LedgerService) *GroupService {
	return &GroupService{
		db:        db,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// CreateGroup creates a group with the caller as its first member
// @Summary Create a group
// @Tags groups
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param group body GroupBody[NewGroup] true "Group data"
// @Success 201 {object} GroupBody[models.Group]
// @Failure 409 {object} ErrorResponse "Group name taken"
// @Router /groups [post]
func (gs *GroupService) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req GroupBody[NewGroup]
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := gs.validator.ValidateStruct(&req.Group); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	group := &models.Group{
		ID:        uuid.NewString(),
		Name:      req.Group.Name,
		CreatedBy: userID,
		CreatedAt: time.Now().UTC(),
	}

	dbTx, err := gs.db.Begin()
	if err != nil {
		log.Printf("[GROUP] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to create group", http.StatusInternalServerError, nil)
		return
	}
	defer dbTx.Rollback()

	_, err = dbTx.Exec(`
		INSERT INTO groups (id, name, created_by, created_at)
		VALUES ($1, $2, $3, $4)`,
		group.ID, group.Name, group.CreatedBy, group.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Constraint == "groups_name_key" {
			SendErrorResponse(w, "Group name taken", http.StatusConflict, nil)
			return
		}
		log.Printf("[GROUP] Failed to create group %q: %v", group.Name, err)
		SendErrorResponse(w, "Failed to create group", http.StatusInternalServerError, nil)
		return
	}

	if err := gs.addMemberTx(dbTx, group.ID, userID); err != nil {
		log.Printf("[GROUP] Failed to add creator %s to group %s: %v", userID, group.ID, err)
		SendErrorResponse(w, "Failed to create group", http.StatusInternalServerError, nil)
		return
	}

	if err := dbTx.Commit(); err != nil {
		log.Printf("[GROUP] Failed to commit group creation: %v", err)
		SendErrorResponse(w, "Failed to create group", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(GroupBody[*models.Group]{Group: group})
}

// JoinGroup adds the caller to a group
// @Summary Join a group
// @Description Adds the caller as a member and seeds zero-balance ledger entries against existing members
// @Tags groups
// @Produce json
// @Security BearerAuth
// @Param groupId path string true "Group ID"
// @Success 200 {object} GroupBody[models.Group]
// @Failure 404 {object} ErrorResponse
// @Router /groups/{groupId}/join [post]
func (gs *GroupService) JoinGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	groupID := chi.URLParam(r, "groupId")

	group, err := gs.Join(groupID, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			SendErrorResponse(w, "Group not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[GROUP] Failed to join group %s as %s: %v", groupID, userID, err)
			SendErrorResponse(w, "Failed to join group", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GroupBody[*models.Group]{Group: group})
}

// Join adds userID to the group and seeds ledger entries against the members
// that are already in it, all in one database transaction. Joining twice is a
// no-op.
func (gs *GroupService) Join(groupID, userID string) (*models.Group, error) {
	group, err := gs.fetchGroup(groupID)
	if err != nil {
		return nil, err
	}

	dbTx, err := gs.db.Begin()
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback()

	existing, err := gs.memberIDsTx(dbTx, groupID)
	if err != nil {
		return nil, err
	}

	if err := gs.addMemberTx(dbTx, groupID, userID); err != nil {
		return nil, err
	}

	if err := gs.ledger.InitPairEntriesTx(dbTx, groupID, userID, existing); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(); err != nil {
		return nil, err
	}
	return group, nil
}

// ListGroups lists the caller's groups
// @Summary List groups
// @Tags groups
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{groups=[]models.Group}
// @Router /groups [get]
func (gs *GroupService) ListGroups(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := gs.db.Query(`
		SELECT g.id, g.name, g.created_by, g.created_at
		FROM groups g
		INNER JOIN group_members gm ON g.id = gm.group_id
		WHERE gm.user_id = $1
		ORDER BY g.created_at ASC`, userID)
	if err != nil {
		log.Printf("[GROUP] Failed to list groups for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to list groups", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	groups := []models.Group{}
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedBy, &g.CreatedAt); err != nil {
			log.Printf("[GROUP] Failed to scan group row: %v", err)
			SendErrorResponse(w, "Failed to list groups", http.StatusInternalServerError, nil)
			return
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[GROUP] Failed to list groups for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to list groups", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"groups": groups})
}

// GetMembers lists a group's members
// @Summary List group members
// @Tags groups
// @Produce json
// @Security BearerAuth
// @Param groupId path string true "Group ID"
// @Success 200 {object} object{members=[]string}
// @Router /groups/{groupId}/members [get]
func (gs *GroupService) GetMembers(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")

	if _, err := gs.fetchGroup(groupID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			SendErrorResponse(w, "Group not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[GROUP] Failed to fetch group %s: %v", groupID, err)
			SendErrorResponse(w, "Failed to fetch group", http.StatusInternalServerError, nil)
		}
		return
	}

	members, err := gs.memberIDs(groupID)
	if err != nil {
		log.Printf("[GROUP] Failed to list members of %s: %v", groupID, err)
		SendErrorResponse(w, "Failed to list members", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"members": members})
}

func (gs *GroupService) fetchGroup(groupID string) (*models.Group, error) {
	group := &models.Group{}
	err := gs.db.QueryRow(`
		SELECT id, name, created_by, created_at FROM groups WHERE id = $1`,
		groupID).Scan(&group.ID, &group.Name, &group.CreatedBy, &group.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return group, nil
}

func (gs *GroupService) addMemberTx(dbTx *sql.Tx, groupID, userID string) error {
	_, err := dbTx.Exec(`
		INSERT INTO group_members (group_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO NOTHING`,
		groupID, userID, time.Now())
	return err
}

func (gs *GroupService) memberIDsTx(dbTx *sql.Tx, groupID string) ([]string, error) {
	rows, err := dbTx.Query(`SELECT user_id FROM group_members WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func (gs *GroupService) memberIDs(groupID string) ([]string, error) {
	rows, err := gs.db.Query(`SELECT user_id FROM group_members WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
