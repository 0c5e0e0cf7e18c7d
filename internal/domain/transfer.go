/**
 * @description
 * This file defines the core domain models for the transfer-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Transfer ids are UUIDs generated by the service; office and asset item ids are
 *   opaque identifiers owned by the surrounding organization directory.
 * - The status and transition enums are closed typed strings so that invalid states
 *   are unrepresentable and the transition table can be checked exhaustively.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a transfer. A transfer moves through the
// store-routed flow (REQUESTED through RECEIVED_AT_DEST) or ends in one of the
// two abort terminals (REJECTED, CANCELLED).
type Status string

const (
	StatusRequested         Status = "REQUESTED"
	StatusApproved          Status = "APPROVED"
	StatusDispatchedToStore Status = "DISPATCHED_TO_STORE"
	StatusReceivedAtStore   Status = "RECEIVED_AT_STORE"
	StatusDispatchedToDest  Status = "DISPATCHED_TO_DEST"
	StatusReceivedAtDest    Status = "RECEIVED_AT_DEST"
	StatusRejected          Status = "REJECTED"
	StatusCancelled         Status = "CANCELLED"
)

// IsTerminal reports whether a transfer in this status can never change again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusReceivedAtDest, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusApproved, StatusDispatchedToStore, StatusReceivedAtStore,
		StatusDispatchedToDest, StatusReceivedAtDest, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Transition is a named edge in the transfer state machine. Transitions are the
// only way a transfer record mutates after creation.
type Transition string

const (
	TransitionApprove         Transition = "approve"
	TransitionDispatchToStore Transition = "dispatchToStore"
	TransitionReceiveAtStore  Transition = "receiveAtStore"
	TransitionDispatchToDest  Transition = "dispatchToDest"
	TransitionReceiveAtDest   Transition = "receiveAtDest"
	TransitionReject          Transition = "reject"
	TransitionCancel          Transition = "cancel"
)

// HolderType distinguishes the two kinds of custodians an asset item can have.
type HolderType string

const (
	HolderOffice HolderType = "OFFICE"
	HolderStore  HolderType = "STORE"
)

// HolderPointer identifies the current custodian of a physical asset item.
// For HolderStore the ID is empty; the store is a single custody point with its
// own operator scope rather than an office.
type HolderPointer struct {
	Type HolderType `json:"type"`
	ID   string     `json:"id,omitempty"`
}

// AssetItem is the slice of the asset directory the workflow engine needs:
// the item id and its current holder pointer.
type AssetItem struct {
	ID     string        `json:"id"`
	Holder HolderPointer `json:"holder"`
}

// TransferLine is one asset item within a transfer. The PrevHolder fields are
// snapshotted when the transfer is approved so that a later cancellation can
// restore the exact pre-transfer custodian.
type TransferLine struct {
	AssetItemID    string      `json:"asset_item_id"`
	Notes          *string     `json:"notes,omitempty"`
	PrevHolderType *HolderType `json:"prev_holder_type,omitempty"`
	PrevHolderID   *string     `json:"prev_holder_id,omitempty"`
}

// StatusChange is one entry in a transfer's append-only status history.
type StatusChange struct {
	From       Status     `json:"from"`
	To         Status     `json:"to"`
	Transition Transition `json:"transition"`
	ActorID    string     `json:"actor_id"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// TransferRecord is the unit of work: one or more asset items moving from an
// origin office to a destination office, routed through the store. Records are
// created in REQUESTED and mutate only through guarded transitions.
type TransferRecord struct {
	ID                 uuid.UUID      `json:"id"`
	FromOfficeID       string         `json:"from_office_id"`
	ToOfficeID         string         `json:"to_office_id"`
	Status             Status         `json:"status"`
	Lines              []TransferLine `json:"lines"`
	Notes              *string        `json:"notes,omitempty"`
	RequisitionID      *string        `json:"requisition_id,omitempty"`
	HandoverDocumentID *string        `json:"handover_document_id,omitempty"`
	TakeoverDocumentID *string        `json:"takeover_document_id,omitempty"`
	StatusChanges      []StatusChange `json:"status_changes"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the record. Repositories hand out clones so
// callers can never mutate stored state by editing a returned record.
func (t *TransferRecord) Clone() *TransferRecord {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Lines = make([]TransferLine, len(t.Lines))
	for i, line := range t.Lines {
		cp.Lines[i] = line
		if line.Notes != nil {
			n := *line.Notes
			cp.Lines[i].Notes = &n
		}
		if line.PrevHolderType != nil {
			ht := *line.PrevHolderType
			cp.Lines[i].PrevHolderType = &ht
		}
		if line.PrevHolderID != nil {
			id := *line.PrevHolderID
			cp.Lines[i].PrevHolderID = &id
		}
	}
	cp.StatusChanges = append([]StatusChange(nil), t.StatusChanges...)
	if t.Notes != nil {
		n := *t.Notes
		cp.Notes = &n
	}
	if t.RequisitionID != nil {
		r := *t.RequisitionID
		cp.RequisitionID = &r
	}
	if t.HandoverDocumentID != nil {
		d := *t.HandoverDocumentID
		cp.HandoverDocumentID = &d
	}
	if t.TakeoverDocumentID != nil {
		d := *t.TakeoverDocumentID
		cp.TakeoverDocumentID = &d
	}
	return &cp
}

// Actor is the resolved identity performing a request. The service never
// computes roles itself; these fields come from validated JWT claims.
type Actor struct {
	Subject       string `json:"subject"`
	OfficeID      string `json:"office_id"`
	Role          string `json:"role"`
	OrgAdmin      bool   `json:"org_admin"`
	StoreOperator bool   `json:"store_operator"`
}

// CreateTransferLineRequest is one line of an incoming transfer creation request.
type CreateTransferLineRequest struct {
	AssetItemID string  `json:"asset_item_id"`
	Notes       *string `json:"notes,omitempty"`
}

// CreateTransferRequest is the DTO for incoming transfer creation API requests.
type CreateTransferRequest struct {
	FromOfficeID  string                      `json:"from_office_id"`
	ToOfficeID    string                      `json:"to_office_id"`
	Lines         []CreateTransferLineRequest `json:"lines"`
	Notes         *string                     `json:"notes,omitempty"`
	RequisitionID *string                     `json:"requisition_id,omitempty"`
}

// DispatchToStoreRequest carries the handover document proving the origin
// office handed the items over for transit.
type DispatchToStoreRequest struct {
	HandoverDocumentID string `json:"handover_document_id"`
}

// ReceiveAtDestRequest carries the takeover document proving the destination
// office took custody of the items.
type ReceiveAtDestRequest struct {
	TakeoverDocumentID string `json:"takeover_document_id"`
}
