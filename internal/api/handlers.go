/**
 * @description
 * This file contains the HTTP handlers for the transfer-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameters.
 * - github.com/google/uuid: For parsing transfer ids.
 * - internal/app, internal/domain: For service logic, models, and sentinel errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/assetra/transfer-service/internal/app"
	"github.com/assetra/transfer-service/internal/domain"
)

// TransferHandlers holds the application service that handlers will use.
type TransferHandlers struct {
	service *app.Service
}

// NewTransferHandlers creates a new instance of TransferHandlers.
func NewTransferHandlers(service *app.Service) *TransferHandlers {
	return &TransferHandlers{service: service}
}

// CreateTransferHandler handles requests to open a new transfer.
func (h *TransferHandlers) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := GetActor(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get actor from context")
		return
	}

	var req domain.CreateTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_transfer outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	rec, err := h.service.CreateTransfer(r.Context(), actor, req)
	if err != nil {
		h.writeServiceError(w, "create_transfer", err)
		return
	}

	log.Printf("level=info component=api endpoint=create_transfer outcome=accepted transfer_id=%s actor=%s", rec.ID, actor.Subject)
	h.writeJSON(w, http.StatusCreated, rec)
}

// GetTransferHandler returns a single transfer with its lines and history.
func (h *TransferHandlers) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := GetActor(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get actor from context")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transfer id")
		return
	}

	rec, err := h.service.GetTransfer(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, "get_transfer", err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// ListTransfersHandler returns every transfer visible to the caller.
func (h *TransferHandlers) ListTransfersHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := GetActor(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get actor from context")
		return
	}

	records, err := h.service.ListTransfers(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, "list_transfers", err)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

// ListTransfersByOfficeHandler returns an office's transfers.
func (h *TransferHandlers) ListTransfersByOfficeHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := GetActor(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get actor from context")
		return
	}

	records, err := h.service.ListTransfersByOffice(r.Context(), actor, chi.URLParam(r, "officeID"))
	if err != nil {
		h.writeServiceError(w, "list_transfers_by_office", err)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

// ListTransfersByAssetItemHandler returns the transfers containing an item.
func (h *TransferHandlers) ListTransfersByAssetItemHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := GetActor(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get actor from context")
		return
	}

	records, err := h.service.ListTransfersByAssetItem(r.Context(), actor, chi.URLParam(r, "assetItemID"))
	if err != nil {
		h.writeServiceError(w, "list_transfers_by_asset_item", err)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

// DeleteTransferHandler removes an untouched REQUESTED transfer.
func (h *TransferHandlers) DeleteTransferHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := GetActor(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get actor from context")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transfer id")
		return
	}

	if err := h.service.DeleteTransfer(r.Context(), actor, id); err != nil {
		h.writeServiceError(w, "delete_transfer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApproveTransferHandler moves a REQUESTED transfer to APPROVED.
func (h *TransferHandlers) ApproveTransferHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "approve_transfer", func(actor domain.Actor, id uuid.UUID) (*domain.TransferRecord, error) {
		return h.service.ApproveTransfer(r.Context(), actor, id)
	})
}

// RejectTransferHandler aborts a transfer before any custody change.
func (h *TransferHandlers) RejectTransferHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "reject_transfer", func(actor domain.Actor, id uuid.UUID) (*domain.TransferRecord, error) {
		return h.service.RejectTransfer(r.Context(), actor, id)
	})
}

// CancelTransferHandler aborts a transfer from any non-terminal state.
func (h *TransferHandlers) CancelTransferHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel_transfer", func(actor domain.Actor, id uuid.UUID) (*domain.TransferRecord, error) {
		return h.service.CancelTransfer(r.Context(), actor, id)
	})
}

// DispatchToStoreHandler records the handover document and dispatches the items.
func (h *TransferHandlers) DispatchToStoreHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.DispatchToStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=dispatch_to_store outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	h.transition(w, r, "dispatch_to_store", func(actor domain.Actor, id uuid.UUID) (*domain.TransferRecord, error) {
		return h.service.DispatchTransferToStore(r.Context(), actor, id, req.HandoverDocumentID)
	})
}

// ReceiveAtStoreHandler takes the items into store custody.
func (h *TransferHandlers) ReceiveAtStoreHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "receive_at_store", func(actor domain.Actor, id uuid.UUID) (*domain.TransferRecord, error) {
		return h.service.ReceiveTransferAtStore(r.Context(), actor, id)
	})
}

// DispatchToDestHandler dispatches the items from the store to the destination.
func (h *TransferHandlers) DispatchToDestHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "dispatch_to_dest", func(actor domain.Actor, id uuid.UUID) (*domain.TransferRecord, error) {
		return h.service.DispatchTransferToDest(r.Context(), actor, id)
	})
}

// ReceiveAtDestHandler records the takeover document and completes the transfer.
func (h *TransferHandlers) ReceiveAtDestHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ReceiveAtDestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=receive_at_dest outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	h.transition(w, r, "receive_at_dest", func(actor domain.Actor, id uuid.UUID) (*domain.TransferRecord, error) {
		return h.service.ReceiveTransferAtDest(r.Context(), actor, id, req.TakeoverDocumentID)
	})
}

// transition is the shared handler path for the transition endpoints: resolve
// the actor and the transfer id, call the service, map the result.
func (h *TransferHandlers) transition(w http.ResponseWriter, r *http.Request, endpoint string, call func(domain.Actor, uuid.UUID) (*domain.TransferRecord, error)) {
	actor, ok := GetActor(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get actor from context")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transfer id")
		return
	}

	rec, err := call(actor, id)
	if err != nil {
		h.writeServiceError(w, endpoint, err)
		return
	}

	log.Printf("level=info component=api endpoint=%s outcome=accepted transfer_id=%s status=%s actor=%s", endpoint, rec.ID, rec.Status, actor.Subject)
	h.writeJSON(w, http.StatusOK, rec)
}

// writeServiceError maps the service's sentinel errors onto HTTP statuses.
func (h *TransferHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotAuthorized):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConflict):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrMissingEvidence), errors.Is(err, domain.ErrInvalidEvidence):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(60))
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"unhandled service error\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *TransferHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *TransferHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
