/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the transfer-service. By defining an
 * interface, we decouple the workflow engine from the specific database
 * implementation (PostgreSQL in production, in-memory in tests), making the
 * code more modular and easier to test.
 *
 * Concurrency contract:
 * - ApplyTransition is the sole mutation boundary for existing transfers. Its
 *   read-check-write must be one transactional step per record; two concurrent
 *   transitions on the same record must never both succeed.
 * - CreateTransfer must check and reserve every referenced asset item
 *   atomically, so two concurrent creations cannot double-book an item.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For transfer ids.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/assetra/transfer-service/internal/domain"
)

// CreateTransferParams is the validated input for opening a new transfer.
type CreateTransferParams struct {
	FromOfficeID  string
	ToOfficeID    string
	Lines         []domain.CreateTransferLineRequest
	Notes         *string
	RequisitionID *string
}

// Repository defines the set of methods for interacting with transfer storage
// and the holder pointers of the asset items a transfer touches.
type Repository interface {
	// CreateTransfer validates line/holder/reservation invariants and inserts the
	// record in REQUESTED. Fails with domain.ErrValidation (bad input or wrong
	// holder), domain.ErrNotFound (unknown item) or domain.ErrConflict (item
	// already in another open transfer).
	CreateTransfer(ctx context.Context, params CreateTransferParams) (*domain.TransferRecord, error)

	// GetTransfer returns the record or domain.ErrNotFound.
	GetTransfer(ctx context.Context, id uuid.UUID) (*domain.TransferRecord, error)

	// ApplyTransition applies the state machine under a per-record exclusivity
	// lock and commits the status change, evidence, history entry and holder
	// pointer effect as one unit. The returned record is the post-transition
	// state; losers of a concurrent race observe the winner's state and fail
	// with domain.ErrInvalidTransition.
	ApplyTransition(ctx context.Context, id uuid.UUID, t domain.Transition, actorID string, evidence *string) (*domain.TransferRecord, error)

	// ListTransfers returns every transfer, newest first. Visibility scoping is
	// the caller's job (the guard owns that rule set).
	ListTransfers(ctx context.Context) ([]domain.TransferRecord, error)

	// ListTransfersByOffice returns transfers where the office is origin or
	// destination, newest first.
	ListTransfersByOffice(ctx context.Context, officeID string) ([]domain.TransferRecord, error)

	// ListTransfersByAssetItem returns transfers containing the item, newest first.
	ListTransfersByAssetItem(ctx context.Context, assetItemID string) ([]domain.TransferRecord, error)

	// DeleteTransfer hard-deletes a record still in REQUESTED. Any later status
	// fails with domain.ErrConflict; unknown ids with domain.ErrNotFound.
	DeleteTransfer(ctx context.Context, id uuid.UUID) error

	// GetAssetItem returns an item and its current holder pointer, or
	// domain.ErrNotFound.
	GetAssetItem(ctx context.Context, id string) (*domain.AssetItem, error)
}
