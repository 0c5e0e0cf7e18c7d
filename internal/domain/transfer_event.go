package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransferStatusEvent is the message published to the events exchange after a
// transition commits. Downstream consumers (notifications, dashboards) use it
// to track custody changes without polling the transfer API.
type TransferStatusEvent struct {
	TransferID    uuid.UUID  `json:"transfer_id"`
	Transition    Transition `json:"transition"`
	Status        Status     `json:"status"`
	FromOfficeID  string     `json:"from_office_id"`
	ToOfficeID    string     `json:"to_office_id"`
	AssetItemIDs  []string   `json:"asset_item_ids"`
	ActorID       string     `json:"actor_id"`
	RequisitionID *string    `json:"requisition_id,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}
