package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/printfleet/fleetdir/internal/models"
	"github.com/printfleet/fleetdir/internal/repositories"
	"github.com/printfleet/fleetdir/internal/services"
)

// PresenceReader is the cache-side read used for the fast presence lookup.
// Implemented by repositories.RedisPresenceCache.
type PresenceReader interface {
	Get(ctx context.Context, accountID string) (*models.Presence, error)
}

// Handler is the thin HTTP glue over the registry, tracker and facade. All
// invariants live below it; this layer only decodes, authorizes against the
// caller identity, and maps errors to status codes.
type Handler struct {
	store    repositories.AccountStore
	registry *services.OwnershipRegistry
	tracker  *services.PresenceTracker
	facade   *services.QueryFacade
	presence PresenceReader // may be nil
	serverID string
}

func NewHandler(
	store repositories.AccountStore,
	registry *services.OwnershipRegistry,
	tracker *services.PresenceTracker,
	facade *services.QueryFacade,
	presence PresenceReader,
	serverID string,
) *Handler {
	return &Handler{
		store:    store,
		registry: registry,
		tracker:  tracker,
		facade:   facade,
		presence: presence,
		serverID: serverID,
	}
}

func (h *Handler) ListPrinters(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	printers, err := h.facade.ListVisiblePrinters(r.Context(),
		identity.AccountID, identity.IsAdmin,
		r.URL.Query().Get("status"), r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(printers))
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	users, err := h.facade.ListVisibleUsers(r.Context(), identity.IsAdmin)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(users))
}

func (h *Handler) ListAllAccounts(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	accounts, err := h.facade.ListAllAccounts(r.Context(), identity.IsAdmin)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(accounts))
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.facade.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

type createAccountRequest struct {
	ID      string             `json:"id"`
	Kind    models.AccountKind `json:"kind"`
	Name    string             `json:"name"`
	IsAdmin bool               `json:"is_admin"`
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	if !identity.IsAdmin {
		writeError(w, http.StatusForbidden, "admin privileges required")
		return
	}

	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind != models.KindUser && req.Kind != models.KindPrinter {
		writeError(w, http.StatusBadRequest, "kind must be user or printer")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	account := &models.Account{
		ID:      req.ID,
		Kind:    req.Kind,
		Name:    req.Name,
		IsAdmin: req.Kind == models.KindUser && req.IsAdmin,
		Presence: models.Presence{
			UpdatedAt: time.Now().UTC(),
			ServerID:  h.serverID,
			Status:    models.StatusOffline,
		},
	}
	if err := h.store.Insert(r.Context(), account); err != nil {
		if errors.Is(err, repositories.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "account id already exists")
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (h *Handler) ListOwnedPrinters(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	ownerID := chi.URLParam(r, "ownerId")
	if !identity.IsAdmin && identity.AccountID != ownerID {
		writeError(w, http.StatusForbidden, "not the owner")
		return
	}

	printers, err := h.registry.ListOwnedBy(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(printers))
}

func (h *Handler) UnlinkPrinter(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	ownerID := chi.URLParam(r, "ownerId")
	printerID := chi.URLParam(r, "printerId")
	if !identity.IsAdmin && identity.AccountID != ownerID {
		writeError(w, http.StatusForbidden, "not the owner")
		return
	}

	if err := h.registry.UnlinkPrinterFromUser(r.Context(), ownerID, printerID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "printer unlinked"})
}

func (h *Handler) LinkPrinter(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	ownerID := chi.URLParam(r, "ownerId")
	printerID := chi.URLParam(r, "printerId")
	if !identity.IsAdmin && identity.AccountID != ownerID {
		writeError(w, http.StatusForbidden, "not the owner")
		return
	}

	if err := h.registry.LinkPrinterToUser(r.Context(), ownerID, printerID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "printer linked"})
}

func (h *Handler) RemovePrinter(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	printerID := chi.URLParam(r, "printerId")

	if !identity.IsAdmin {
		printer, err := h.store.GetByID(r.Context(), printerID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if printer.OwnerID == nil || *printer.OwnerID != identity.AccountID {
			writeError(w, http.StatusForbidden, "not the owner")
			return
		}
	}

	if err := h.registry.RemovePrinter(r.Context(), printerID); err != nil {
		writeServiceError(w, err)
		return
	}
	h.tracker.ForgetPresence(r.Context(), printerID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "printer removed"})
}

type presenceUpdateRequest struct {
	Status        models.PresenceStatus `json:"status"`
	ServerID      string                `json:"server_id"`
	ClientAddress string                `json:"client_address"`
	HTTPHeader    map[string]string     `json:"http_header"`
	Timestamp     *time.Time            `json:"timestamp"`
}

func (h *Handler) UpdatePresence(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	accountID := chi.URLParam(r, "id")
	if !identity.IsAdmin && identity.AccountID != accountID {
		writeError(w, http.StatusForbidden, "cannot report presence for another account")
		return
	}

	var req presenceUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	update := services.PresenceUpdate{
		Status:        req.Status,
		ServerID:      req.ServerID,
		ClientAddress: req.ClientAddress,
		HTTPHeader:    req.HTTPHeader,
	}
	if update.ServerID == "" {
		update.ServerID = h.serverID
	}
	if update.ClientAddress == "" {
		update.ClientAddress = r.RemoteAddr
	}
	if req.Timestamp != nil {
		update.Timestamp = *req.Timestamp
	} else {
		update.Timestamp = time.Now().UTC()
	}

	account, err := h.tracker.ApplyUpdate(r.Context(), accountID, update)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// GetPresence serves the cached snapshot when available and falls back to
// the account store on a miss.
func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	if h.presence != nil {
		presence, err := h.presence.Get(r.Context(), accountID)
		if err == nil {
			writeJSON(w, http.StatusOK, presence)
			return
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			log.Printf("presence cache read failed for account %s: %v", accountID, err)
		}
	}

	account, err := h.store.GetByID(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account.Presence)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeServiceError(w http.ResponseWriter, err error) {
	var partial *services.PartialFailureError
	switch {
	case errors.Is(err, services.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repositories.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, services.ErrStalePresence):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrAlreadyOwned):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &partial):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, services.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func emptyIfNil(accounts []*models.Account) []*models.Account {
	if accounts == nil {
		return []*models.Account{}
	}
	return accounts
}
