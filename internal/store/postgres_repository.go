/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface
 * using the pgx driver. All custody-affecting writes happen inside explicit
 * transactions: transfer creation locks and reserves the referenced asset item
 * rows, and ApplyTransition locks the transfer row itself so that concurrent
 * transitions on the same record serialize and the loser is evaluated against
 * the winner's committed state.
 *
 * Tables owned by this service:
 * - transfers:                one row per transfer record
 * - transfer_lines:           ordered line items with holder snapshots
 * - transfer_status_changes:  append-only status history
 * - asset_items:              holder pointer per physical item (holder_type, holder_id)
 *
 * @dependencies
 * - context, errors, fmt, time: Standard Go libraries.
 * - github.com/google/uuid: For transfer ids.
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pooling.
 * - internal/domain: For domain models, the state machine and sentinel errors.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/assetra/transfer-service/internal/domain"
)

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository with the given connection pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const openStatusesSQL = `('REQUESTED','APPROVED','DISPATCHED_TO_STORE','RECEIVED_AT_STORE','DISPATCHED_TO_DEST')`

// CreateTransfer inserts a new transfer in REQUESTED after validating and
// reserving every referenced asset item inside one transaction. The item rows
// are locked FOR UPDATE before the open-transfer check, so two concurrent
// creations racing for the same item serialize and exactly one wins.
func (r *PostgresRepository) CreateTransfer(ctx context.Context, params CreateTransferParams) (*domain.TransferRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin create transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, line := range params.Lines {
		var holderType, holderID string
		err := tx.QueryRow(ctx,
			"SELECT holder_type, holder_id FROM asset_items WHERE id = $1 FOR UPDATE",
			line.AssetItemID,
		).Scan(&holderType, &holderID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: asset item %s", domain.ErrNotFound, line.AssetItemID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock asset item %s: %w", line.AssetItemID, err)
		}
		if domain.HolderType(holderType) != domain.HolderOffice || holderID != params.FromOfficeID {
			return nil, fmt.Errorf("%w: asset item %s is not held by office %s", domain.ErrValidation, line.AssetItemID, params.FromOfficeID)
		}

		var reserved bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS(
				SELECT 1 FROM transfer_lines l
				JOIN transfers t ON t.id = l.transfer_id
				WHERE l.asset_item_id = $1 AND t.status IN `+openStatusesSQL+`
			)`,
			line.AssetItemID,
		).Scan(&reserved)
		if err != nil {
			return nil, fmt.Errorf("failed to check open transfers for item %s: %w", line.AssetItemID, err)
		}
		if reserved {
			return nil, fmt.Errorf("%w: asset item %s is already part of an open transfer", domain.ErrConflict, line.AssetItemID)
		}
	}

	now := time.Now().UTC()
	rec := &domain.TransferRecord{
		ID:            uuid.New(),
		FromOfficeID:  params.FromOfficeID,
		ToOfficeID:    params.ToOfficeID,
		Status:        domain.StatusRequested,
		Notes:         params.Notes,
		RequisitionID: params.RequisitionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO transfers (id, from_office_id, to_office_id, status, notes, requisition_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.FromOfficeID, rec.ToOfficeID, string(rec.Status), rec.Notes, rec.RequisitionID, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transfer: %w", err)
	}

	rec.Lines = make([]domain.TransferLine, 0, len(params.Lines))
	for i, line := range params.Lines {
		_, err = tx.Exec(ctx,
			`INSERT INTO transfer_lines (transfer_id, line_no, asset_item_id, notes)
			 VALUES ($1, $2, $3, $4)`,
			rec.ID, i, line.AssetItemID, line.Notes,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert transfer line %d: %w", i, err)
		}
		rec.Lines = append(rec.Lines, domain.TransferLine{AssetItemID: line.AssetItemID, Notes: line.Notes})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit create transaction: %w", err)
	}
	return rec, nil
}

// GetTransfer loads a transfer with its lines and status history.
func (r *PostgresRepository) GetTransfer(ctx context.Context, id uuid.UUID) (*domain.TransferRecord, error) {
	return r.getTransfer(ctx, r.db, id, false)
}

type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PostgresRepository) getTransfer(ctx context.Context, q pgxQuerier, id uuid.UUID, forUpdate bool) (*domain.TransferRecord, error) {
	query := `SELECT id, from_office_id, to_office_id, status, notes, requisition_id,
		handover_document_id, takeover_document_id, created_at, updated_at
		FROM transfers WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	rec := &domain.TransferRecord{}
	var status string
	err := q.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.FromOfficeID, &rec.ToOfficeID, &status, &rec.Notes, &rec.RequisitionID,
		&rec.HandoverDocumentID, &rec.TakeoverDocumentID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: transfer %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer %s: %w", id, err)
	}
	rec.Status = domain.Status(status)

	rows, err := q.Query(ctx,
		`SELECT asset_item_id, notes, prev_holder_type, prev_holder_id
		 FROM transfer_lines WHERE transfer_id = $1 ORDER BY line_no`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var line domain.TransferLine
		var prevType *string
		if err := rows.Scan(&line.AssetItemID, &line.Notes, &prevType, &line.PrevHolderID); err != nil {
			return nil, fmt.Errorf("failed to scan transfer line: %w", err)
		}
		if prevType != nil {
			ht := domain.HolderType(*prevType)
			line.PrevHolderType = &ht
		}
		rec.Lines = append(rec.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transfer lines: %w", err)
	}

	historyRows, err := q.Query(ctx,
		`SELECT from_status, to_status, transition, actor_id, occurred_at
		 FROM transfer_status_changes WHERE transfer_id = $1 ORDER BY occurred_at, seq`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer historyRows.Close()
	for historyRows.Next() {
		var change domain.StatusChange
		var from, to, transition string
		if err := historyRows.Scan(&from, &to, &transition, &change.ActorID, &change.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}
		change.From = domain.Status(from)
		change.To = domain.Status(to)
		change.Transition = domain.Transition(transition)
		rec.StatusChanges = append(rec.StatusChanges, change)
	}
	if err := historyRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status history: %w", err)
	}

	return rec, nil
}

// ApplyTransition locks the transfer row, re-reads its state, runs the state
// machine, and commits the status change together with its holder-pointer
// effect and history entry. Concurrent callers on the same record block on the
// row lock and then see the committed post-state, so a racing duplicate fails
// deterministically with domain.ErrInvalidTransition.
func (r *PostgresRepository) ApplyTransition(ctx context.Context, id uuid.UUID, t domain.Transition, actorID string, evidence *string) (*domain.TransferRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transition transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := r.getTransfer(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	effect, err := domain.Apply(rec, t, actorID, evidence, now)
	if err != nil {
		return nil, err
	}

	rule, _ := domain.RuleFor(t)
	if rule.Snapshot {
		for i := range rec.Lines {
			var holderType, holderID string
			err := tx.QueryRow(ctx,
				"SELECT holder_type, holder_id FROM asset_items WHERE id = $1 FOR UPDATE",
				rec.Lines[i].AssetItemID,
			).Scan(&holderType, &holderID)
			if err != nil {
				return nil, fmt.Errorf("failed to snapshot holder for item %s: %w", rec.Lines[i].AssetItemID, err)
			}
			ht := domain.HolderType(holderType)
			hid := holderID
			rec.Lines[i].PrevHolderType = &ht
			rec.Lines[i].PrevHolderID = &hid
			_, err = tx.Exec(ctx,
				"UPDATE transfer_lines SET prev_holder_type = $1, prev_holder_id = $2 WHERE transfer_id = $3 AND asset_item_id = $4",
				holderType, holderID, rec.ID, rec.Lines[i].AssetItemID,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to store holder snapshot for item %s: %w", rec.Lines[i].AssetItemID, err)
			}
		}
	}

	if err := r.applyHolderEffect(ctx, tx, rec, effect); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE transfers SET status = $1, handover_document_id = $2, takeover_document_id = $3, updated_at = $4
		 WHERE id = $5`,
		string(rec.Status), rec.HandoverDocumentID, rec.TakeoverDocumentID, rec.UpdatedAt, rec.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update transfer %s: %w", rec.ID, err)
	}

	change := rec.StatusChanges[len(rec.StatusChanges)-1]
	_, err = tx.Exec(ctx,
		`INSERT INTO transfer_status_changes (transfer_id, from_status, to_status, transition, actor_id, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, string(change.From), string(change.To), string(change.Transition), change.ActorID, change.OccurredAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append status history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) applyHolderEffect(ctx context.Context, tx pgx.Tx, rec *domain.TransferRecord, effect domain.HolderEffect) error {
	switch effect {
	case domain.HolderEffectNone:
		return nil
	case domain.HolderEffectToStore:
		for _, line := range rec.Lines {
			_, err := tx.Exec(ctx,
				"UPDATE asset_items SET holder_type = $1, holder_id = '' WHERE id = $2",
				string(domain.HolderStore), line.AssetItemID,
			)
			if err != nil {
				return fmt.Errorf("failed to move item %s to store custody: %w", line.AssetItemID, err)
			}
		}
	case domain.HolderEffectToDestination:
		for _, line := range rec.Lines {
			_, err := tx.Exec(ctx,
				"UPDATE asset_items SET holder_type = $1, holder_id = $2 WHERE id = $3",
				string(domain.HolderOffice), rec.ToOfficeID, line.AssetItemID,
			)
			if err != nil {
				return fmt.Errorf("failed to move item %s to destination office: %w", line.AssetItemID, err)
			}
		}
	case domain.HolderEffectRestore:
		// Items are only restored if custody actually moved to the store; items
		// still at the origin office keep their pointer untouched.
		for _, line := range rec.Lines {
			if line.PrevHolderType == nil || line.PrevHolderID == nil {
				continue
			}
			_, err := tx.Exec(ctx,
				`UPDATE asset_items SET holder_type = $1, holder_id = $2
				 WHERE id = $3 AND holder_type = $4`,
				string(*line.PrevHolderType), *line.PrevHolderID, line.AssetItemID, string(domain.HolderStore),
			)
			if err != nil {
				return fmt.Errorf("failed to restore holder for item %s: %w", line.AssetItemID, err)
			}
		}
	}
	return nil
}

// ListTransfers returns every transfer, newest first.
func (r *PostgresRepository) ListTransfers(ctx context.Context) ([]domain.TransferRecord, error) {
	return r.listByIDQuery(ctx, "SELECT id FROM transfers ORDER BY created_at DESC")
}

// ListTransfersByOffice returns transfers touching the office as origin or destination.
func (r *PostgresRepository) ListTransfersByOffice(ctx context.Context, officeID string) ([]domain.TransferRecord, error) {
	return r.listByIDQuery(ctx,
		"SELECT id FROM transfers WHERE from_office_id = $1 OR to_office_id = $1 ORDER BY created_at DESC",
		officeID,
	)
}

// ListTransfersByAssetItem returns transfers containing the given item.
func (r *PostgresRepository) ListTransfersByAssetItem(ctx context.Context, assetItemID string) ([]domain.TransferRecord, error) {
	return r.listByIDQuery(ctx,
		`SELECT t.id FROM transfers t
		 JOIN transfer_lines l ON l.transfer_id = t.id
		 WHERE l.asset_item_id = $1 ORDER BY t.created_at DESC`,
		assetItemID,
	)
}

func (r *PostgresRepository) listByIDQuery(ctx context.Context, query string, args ...any) ([]domain.TransferRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan transfer id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transfer ids: %w", err)
	}

	out := make([]domain.TransferRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := r.getTransfer(ctx, r.db, id, false)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// DeleteTransfer removes an untouched REQUESTED record. The row is locked first
// so a concurrent transition cannot slip in between the status check and the delete.
func (r *PostgresRepository) DeleteTransfer(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, "SELECT status FROM transfers WHERE id = $1 FOR UPDATE", id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: transfer %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to lock transfer %s for delete: %w", id, err)
	}
	if domain.Status(status) != domain.StatusRequested {
		return fmt.Errorf("%w: transfer %s is %s; only REQUESTED records can be deleted", domain.ErrConflict, id, status)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM transfer_status_changes WHERE transfer_id = $1", id); err != nil {
		return fmt.Errorf("failed to delete status history: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM transfer_lines WHERE transfer_id = $1", id); err != nil {
		return fmt.Errorf("failed to delete transfer lines: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM transfers WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete transfer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// GetAssetItem returns an asset item and its current holder pointer.
func (r *PostgresRepository) GetAssetItem(ctx context.Context, id string) (*domain.AssetItem, error) {
	var holderType, holderID string
	err := r.db.QueryRow(ctx,
		"SELECT holder_type, holder_id FROM asset_items WHERE id = $1", id,
	).Scan(&holderType, &holderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: asset item %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query asset item %s: %w", id, err)
	}
	return &domain.AssetItem{
		ID:     id,
		Holder: domain.HolderPointer{Type: domain.HolderType(holderType), ID: holderID},
	}, nil
}
