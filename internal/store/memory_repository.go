/**
 * @description
 * This file provides an in-memory implementation of the `Repository` interface.
 * It backs the engine's tests (including the concurrency properties) and local
 * development runs without a PostgreSQL instance.
 *
 * Locking model mirrors the Postgres implementation: a repository-wide mutex
 * guards the maps and the item reservation index, and each transfer carries its
 * own mutex so transitions on the same record serialize while transitions on
 * different records proceed in parallel.
 *
 * @dependencies
 * - context, fmt, sort, sync, time: Standard Go libraries.
 * - github.com/google/uuid: For transfer ids.
 * - internal/domain: For domain models, the state machine and sentinel errors.
 */

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/assetra/transfer-service/internal/domain"
)

type memoryTransfer struct {
	mu  sync.Mutex
	rec domain.TransferRecord
}

// MemoryRepository is a mutex-guarded, map-backed Repository.
type MemoryRepository struct {
	mu        sync.Mutex
	transfers map[uuid.UUID]*memoryTransfer
	items     map[string]domain.HolderPointer
	// reserved maps an asset item id to the open transfer holding it.
	reserved map[string]uuid.UUID
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		transfers: make(map[uuid.UUID]*memoryTransfer),
		items:     make(map[string]domain.HolderPointer),
		reserved:  make(map[string]uuid.UUID),
	}
}

// SeedAssetItem registers an asset item with its current holder pointer.
func (r *MemoryRepository) SeedAssetItem(id string, holder domain.HolderPointer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[id] = holder
}

// CreateTransfer validates and reserves every referenced item atomically under
// the repository mutex, so two concurrent creations cannot claim the same item.
func (r *MemoryRepository) CreateTransfer(ctx context.Context, params CreateTransferParams) (*domain.TransferRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, line := range params.Lines {
		holder, ok := r.items[line.AssetItemID]
		if !ok {
			return nil, fmt.Errorf("%w: asset item %s", domain.ErrNotFound, line.AssetItemID)
		}
		if holder.Type != domain.HolderOffice || holder.ID != params.FromOfficeID {
			return nil, fmt.Errorf("%w: asset item %s is not held by office %s", domain.ErrValidation, line.AssetItemID, params.FromOfficeID)
		}
		if openID, taken := r.reserved[line.AssetItemID]; taken {
			return nil, fmt.Errorf("%w: asset item %s is already part of open transfer %s", domain.ErrConflict, line.AssetItemID, openID)
		}
	}

	now := time.Now().UTC()
	rec := domain.TransferRecord{
		ID:            uuid.New(),
		FromOfficeID:  params.FromOfficeID,
		ToOfficeID:    params.ToOfficeID,
		Status:        domain.StatusRequested,
		Notes:         params.Notes,
		RequisitionID: params.RequisitionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, line := range params.Lines {
		rec.Lines = append(rec.Lines, domain.TransferLine{AssetItemID: line.AssetItemID, Notes: line.Notes})
		r.reserved[line.AssetItemID] = rec.ID
	}

	r.transfers[rec.ID] = &memoryTransfer{rec: rec}
	return rec.Clone(), nil
}

// GetTransfer returns a copy of the record or domain.ErrNotFound.
func (r *MemoryRepository) GetTransfer(ctx context.Context, id uuid.UUID) (*domain.TransferRecord, error) {
	r.mu.Lock()
	entry, ok := r.transfers[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: transfer %s", domain.ErrNotFound, id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.rec.Clone(), nil
}

// ApplyTransition serializes on the record's own mutex; the repository mutex is
// only taken for the holder-pointer and reservation updates. Lock order is
// always record mutex first, repository mutex second.
func (r *MemoryRepository) ApplyTransition(ctx context.Context, id uuid.UUID, t domain.Transition, actorID string, evidence *string) (*domain.TransferRecord, error) {
	r.mu.Lock()
	entry, ok := r.transfers[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: transfer %s", domain.ErrNotFound, id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	working := entry.rec.Clone()
	now := time.Now().UTC()
	effect, err := domain.Apply(working, t, actorID, evidence, now)
	if err != nil {
		return nil, err
	}

	rule, _ := domain.RuleFor(t)

	r.mu.Lock()
	defer r.mu.Unlock()

	if rule.Snapshot {
		for i := range working.Lines {
			holder, ok := r.items[working.Lines[i].AssetItemID]
			if !ok {
				return nil, fmt.Errorf("%w: asset item %s", domain.ErrNotFound, working.Lines[i].AssetItemID)
			}
			ht := holder.Type
			hid := holder.ID
			working.Lines[i].PrevHolderType = &ht
			working.Lines[i].PrevHolderID = &hid
		}
	}

	switch effect {
	case domain.HolderEffectToStore:
		for _, line := range working.Lines {
			r.items[line.AssetItemID] = domain.HolderPointer{Type: domain.HolderStore}
		}
	case domain.HolderEffectToDestination:
		for _, line := range working.Lines {
			r.items[line.AssetItemID] = domain.HolderPointer{Type: domain.HolderOffice, ID: working.ToOfficeID}
		}
	case domain.HolderEffectRestore:
		for _, line := range working.Lines {
			if line.PrevHolderType == nil || line.PrevHolderID == nil {
				continue
			}
			if current, ok := r.items[line.AssetItemID]; !ok || current.Type != domain.HolderStore {
				continue
			}
			r.items[line.AssetItemID] = domain.HolderPointer{Type: *line.PrevHolderType, ID: *line.PrevHolderID}
		}
	}

	if working.Status.IsTerminal() {
		for _, line := range working.Lines {
			if r.reserved[line.AssetItemID] == working.ID {
				delete(r.reserved, line.AssetItemID)
			}
		}
	}

	entry.rec = *working
	return working.Clone(), nil
}

// ListTransfers returns every transfer, newest first.
func (r *MemoryRepository) ListTransfers(ctx context.Context) ([]domain.TransferRecord, error) {
	return r.list(func(rec *domain.TransferRecord) bool { return true })
}

// ListTransfersByOffice returns transfers where the office is origin or destination.
func (r *MemoryRepository) ListTransfersByOffice(ctx context.Context, officeID string) ([]domain.TransferRecord, error) {
	return r.list(func(rec *domain.TransferRecord) bool {
		return rec.FromOfficeID == officeID || rec.ToOfficeID == officeID
	})
}

// ListTransfersByAssetItem returns transfers containing the given item.
func (r *MemoryRepository) ListTransfersByAssetItem(ctx context.Context, assetItemID string) ([]domain.TransferRecord, error) {
	return r.list(func(rec *domain.TransferRecord) bool {
		for _, line := range rec.Lines {
			if line.AssetItemID == assetItemID {
				return true
			}
		}
		return false
	})
}

func (r *MemoryRepository) list(match func(*domain.TransferRecord) bool) ([]domain.TransferRecord, error) {
	r.mu.Lock()
	entries := make([]*memoryTransfer, 0, len(r.transfers))
	for _, entry := range r.transfers {
		entries = append(entries, entry)
	}
	r.mu.Unlock()

	out := make([]domain.TransferRecord, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		if match(&entry.rec) {
			out = append(out, *entry.rec.Clone())
		}
		entry.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteTransfer removes a REQUESTED record and releases its reservations.
func (r *MemoryRepository) DeleteTransfer(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	entry, ok := r.transfers[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: transfer %s", domain.ErrNotFound, id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.rec.Status != domain.StatusRequested {
		return fmt.Errorf("%w: transfer %s is %s; only REQUESTED records can be deleted", domain.ErrConflict, id, entry.rec.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range entry.rec.Lines {
		if r.reserved[line.AssetItemID] == id {
			delete(r.reserved, line.AssetItemID)
		}
	}
	delete(r.transfers, id)
	return nil
}

// GetAssetItem returns a copy of an item and its current holder pointer.
func (r *MemoryRepository) GetAssetItem(ctx context.Context, id string) (*domain.AssetItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	holder, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: asset item %s", domain.ErrNotFound, id)
	}
	return &domain.AssetItem{ID: id, Holder: holder}, nil
}
