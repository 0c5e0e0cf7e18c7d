/**
 * @description
 * This file contains the core business logic for the transfer-service. The
 * `Service` struct orchestrates the asset-transfer workflow: it resolves each
 * transition request through the guard, verifies evidence documents when the
 * transition requires them, delegates the atomic state change to the
 * repository, and publishes a status event after the commit.
 *
 * Key features:
 * - One method per workflow operation (create, get, lists, delete, and the
 *   seven transitions of the lifecycle).
 * - Every failure is detected before any persistent write; the engine never
 *   leaves a record half-updated.
 * - Publishes events to RabbitMQ for asynchronous processing by other services;
 *   publication is best-effort and never fails the request.
 *
 * @dependencies
 * - context, errors, fmt, log, strings, time: Standard Go libraries.
 * - github.com/google/uuid: For transfer ids.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For event publication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/assetra/transfer-service/internal/domain"
	"github.com/assetra/transfer-service/internal/store"
	"github.com/assetra/transfer-service/pkg/rabbitmq"
)

// ErrRateLimited indicates the actor exhausted their mutation budget for the
// current window. The API layer maps it to 429.
var ErrRateLimited = errors.New("rate limited")

// Document types the document store recognizes as transition evidence.
const (
	DocumentTypeHandover = "HANDOVER"
	DocumentTypeTakeover = "TAKEOVER"
)

// DocumentVerifier checks that a document reference is usable as transition
// evidence: it exists, belongs to the given office, and has the wanted type.
// Implementations return domain.ErrInvalidEvidence when any of that fails.
type DocumentVerifier interface {
	VerifyDocument(ctx context.Context, documentID, officeID, wantType string) error
}

// RateLimiter is the sliding-window counter consumed before mutating
// operations. A nil limiter disables rate limiting.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for the transfer workflow.
type Service struct {
	repo          store.Repository
	docs          DocumentVerifier
	eventProducer rabbitmq.Publisher
	eventExchange string
	guard         Guard

	rateLimiter            RateLimiter
	mutationLimitPerMinute int
}

// NewService creates a new transfer workflow service instance.
func NewService(repo store.Repository, docs DocumentVerifier, producer rabbitmq.Publisher, eventExchange string) *Service {
	return &Service{
		repo:          repo,
		docs:          docs,
		eventProducer: producer,
		eventExchange: eventExchange,
	}
}

// SetRateLimiter attaches an optional distributed rate limiter for mutating
// operations. limitPerMinute <= 0 disables the check.
func (s *Service) SetRateLimiter(limiter RateLimiter, limitPerMinute int) {
	s.rateLimiter = limiter
	s.mutationLimitPerMinute = limitPerMinute
}

// CreateTransfer validates the request, authorizes the actor for the origin
// office, and opens a new transfer in REQUESTED.
func (s *Service) CreateTransfer(ctx context.Context, actor domain.Actor, req domain.CreateTransferRequest) (*domain.TransferRecord, error) {
	if err := s.consumeMutationBudget(ctx, actor, "create"); err != nil {
		return nil, err
	}

	from := strings.TrimSpace(req.FromOfficeID)
	to := strings.TrimSpace(req.ToOfficeID)
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: from_office_id and to_office_id are required", domain.ErrValidation)
	}
	if from == to {
		return nil, fmt.Errorf("%w: from_office_id and to_office_id must differ", domain.ErrValidation)
	}
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", domain.ErrValidation)
	}
	lines := make([]domain.CreateTransferLineRequest, len(req.Lines))
	seen := make(map[string]bool, len(req.Lines))
	for i, line := range req.Lines {
		itemID := strings.TrimSpace(line.AssetItemID)
		if itemID == "" {
			return nil, fmt.Errorf("%w: every line needs an asset_item_id", domain.ErrValidation)
		}
		if seen[itemID] {
			return nil, fmt.Errorf("%w: asset item %s appears more than once", domain.ErrValidation, itemID)
		}
		seen[itemID] = true
		lines[i] = domain.CreateTransferLineRequest{AssetItemID: itemID, Notes: line.Notes}
	}

	if !s.guard.CanCreate(from, actor) {
		return nil, fmt.Errorf("%w: actor %s may not open transfers for office %s", domain.ErrNotAuthorized, actor.Subject, from)
	}

	rec, err := s.repo.CreateTransfer(ctx, store.CreateTransferParams{
		FromOfficeID:  from,
		ToOfficeID:    to,
		Lines:         lines,
		Notes:         req.Notes,
		RequisitionID: req.RequisitionID,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("CreateTransfer: opened transfer %s from %s to %s with %d line(s)", rec.ID, rec.FromOfficeID, rec.ToOfficeID, len(rec.Lines))
	return rec, nil
}

// GetTransfer returns a transfer the actor is allowed to see.
func (s *Service) GetTransfer(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.TransferRecord, error) {
	rec, err := s.repo.GetTransfer(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.guard.CanRead(rec, actor) {
		return nil, fmt.Errorf("%w: actor %s may not read transfer %s", domain.ErrNotAuthorized, actor.Subject, id)
	}
	return rec, nil
}

// ListTransfers returns every transfer visible to the actor.
func (s *Service) ListTransfers(ctx context.Context, actor domain.Actor) ([]domain.TransferRecord, error) {
	all, err := s.repo.ListTransfers(ctx)
	if err != nil {
		return nil, err
	}
	return s.filterReadable(all, actor), nil
}

// ListTransfersByOffice returns the office's transfers visible to the actor.
func (s *Service) ListTransfersByOffice(ctx context.Context, actor domain.Actor, officeID string) ([]domain.TransferRecord, error) {
	officeID = strings.TrimSpace(officeID)
	if officeID == "" {
		return nil, fmt.Errorf("%w: office id is required", domain.ErrValidation)
	}
	records, err := s.repo.ListTransfersByOffice(ctx, officeID)
	if err != nil {
		return nil, err
	}
	return s.filterReadable(records, actor), nil
}

// ListTransfersByAssetItem returns the item's transfers visible to the actor.
func (s *Service) ListTransfersByAssetItem(ctx context.Context, actor domain.Actor, assetItemID string) ([]domain.TransferRecord, error) {
	assetItemID = strings.TrimSpace(assetItemID)
	if assetItemID == "" {
		return nil, fmt.Errorf("%w: asset item id is required", domain.ErrValidation)
	}
	records, err := s.repo.ListTransfersByAssetItem(ctx, assetItemID)
	if err != nil {
		return nil, err
	}
	return s.filterReadable(records, actor), nil
}

func (s *Service) filterReadable(records []domain.TransferRecord, actor domain.Actor) []domain.TransferRecord {
	out := make([]domain.TransferRecord, 0, len(records))
	for i := range records {
		if s.guard.CanRead(&records[i], actor) {
			out = append(out, records[i])
		}
	}
	return out
}

// DeleteTransfer removes an untouched REQUESTED record. Deletion carries the
// same authority as cancel: the origin office or an org admin.
func (s *Service) DeleteTransfer(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	if err := s.consumeMutationBudget(ctx, actor, "delete"); err != nil {
		return err
	}

	rec, err := s.repo.GetTransfer(ctx, id)
	if err != nil {
		return err
	}
	if !actor.OrgAdmin && actor.OfficeID != rec.FromOfficeID {
		return fmt.Errorf("%w: actor %s may not delete transfer %s", domain.ErrNotAuthorized, actor.Subject, id)
	}
	if err := s.repo.DeleteTransfer(ctx, id); err != nil {
		return err
	}
	log.Printf("DeleteTransfer: removed transfer %s", id)
	return nil
}

// ApproveTransfer moves REQUESTED to APPROVED (destination office authority).
func (s *Service) ApproveTransfer(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.TransferRecord, error) {
	return s.applyTransition(ctx, actor, id, domain.TransitionApprove, nil)
}

// RejectTransfer aborts a transfer before any custody change.
func (s *Service) RejectTransfer(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.TransferRecord, error) {
	return s.applyTransition(ctx, actor, id, domain.TransitionReject, nil)
}

// CancelTransfer aborts a transfer from any non-terminal state, restoring item
// custody if the items already reached the store.
func (s *Service) CancelTransfer(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.TransferRecord, error) {
	return s.applyTransition(ctx, actor, id, domain.TransitionCancel, nil)
}

// DispatchTransferToStore records the handover document and marks the items in
// transit to the store.
func (s *Service) DispatchTransferToStore(ctx context.Context, actor domain.Actor, id uuid.UUID, handoverDocumentID string) (*domain.TransferRecord, error) {
	doc := strings.TrimSpace(handoverDocumentID)
	var evidence *string
	if doc != "" {
		evidence = &doc
	}
	return s.applyTransition(ctx, actor, id, domain.TransitionDispatchToStore, evidence)
}

// ReceiveTransferAtStore takes the items into store custody.
func (s *Service) ReceiveTransferAtStore(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.TransferRecord, error) {
	return s.applyTransition(ctx, actor, id, domain.TransitionReceiveAtStore, nil)
}

// DispatchTransferToDest marks the items in transit from the store to the
// destination office.
func (s *Service) DispatchTransferToDest(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.TransferRecord, error) {
	return s.applyTransition(ctx, actor, id, domain.TransitionDispatchToDest, nil)
}

// ReceiveTransferAtDest records the takeover document and completes the
// transfer, moving custody to the destination office.
func (s *Service) ReceiveTransferAtDest(ctx context.Context, actor domain.Actor, id uuid.UUID, takeoverDocumentID string) (*domain.TransferRecord, error) {
	doc := strings.TrimSpace(takeoverDocumentID)
	var evidence *string
	if doc != "" {
		evidence = &doc
	}
	return s.applyTransition(ctx, actor, id, domain.TransitionReceiveAtDest, evidence)
}

// applyTransition is the shared path for every transition operation: rate
// budget, guard, evidence verification, then the repository's atomic apply.
// The repository re-runs the state machine under its record lock, so a racing
// duplicate is evaluated against the winner's committed state there.
func (s *Service) applyTransition(ctx context.Context, actor domain.Actor, id uuid.UUID, t domain.Transition, evidence *string) (*domain.TransferRecord, error) {
	if err := s.consumeMutationBudget(ctx, actor, string(t)); err != nil {
		return nil, err
	}

	rec, err := s.repo.GetTransfer(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.guard.Allow(rec, t, actor); err != nil {
		return nil, err
	}

	rule, _ := domain.RuleFor(t)
	switch rule.Evidence {
	case domain.EvidenceHandover:
		if evidence == nil {
			return nil, fmt.Errorf("%w: %s requires a handover document", domain.ErrMissingEvidence, t)
		}
		if err := s.docs.VerifyDocument(ctx, *evidence, rec.FromOfficeID, DocumentTypeHandover); err != nil {
			return nil, err
		}
	case domain.EvidenceTakeover:
		if evidence == nil {
			return nil, fmt.Errorf("%w: %s requires a takeover document", domain.ErrMissingEvidence, t)
		}
		if err := s.docs.VerifyDocument(ctx, *evidence, rec.ToOfficeID, DocumentTypeTakeover); err != nil {
			return nil, err
		}
	default:
		if evidence != nil && *evidence != "" {
			log.Printf("level=warn component=workflow msg=\"surplus evidence ignored\" transfer_id=%s transition=%s document_id=%s", id, t, *evidence)
			evidence = nil
		}
	}

	updated, err := s.repo.ApplyTransition(ctx, id, t, actor.Subject, evidence)
	if err != nil {
		return nil, err
	}

	log.Printf("%s: transfer %s is now %s", transitionLogPrefix(t), updated.ID, updated.Status)
	s.publishStatusEvent(ctx, updated, t, actor)
	return updated, nil
}

func transitionLogPrefix(t domain.Transition) string {
	switch t {
	case domain.TransitionApprove:
		return "ApproveTransfer"
	case domain.TransitionReject:
		return "RejectTransfer"
	case domain.TransitionCancel:
		return "CancelTransfer"
	case domain.TransitionDispatchToStore:
		return "DispatchTransferToStore"
	case domain.TransitionReceiveAtStore:
		return "ReceiveTransferAtStore"
	case domain.TransitionDispatchToDest:
		return "DispatchTransferToDest"
	case domain.TransitionReceiveAtDest:
		return "ReceiveTransferAtDest"
	}
	return "ApplyTransition"
}

// publishStatusEvent emits the post-commit event. Failures are logged only;
// the transition already committed and must not be reported as failed.
func (s *Service) publishStatusEvent(ctx context.Context, rec *domain.TransferRecord, t domain.Transition, actor domain.Actor) {
	if s.eventProducer == nil {
		return
	}

	itemIDs := make([]string, 0, len(rec.Lines))
	for _, line := range rec.Lines {
		itemIDs = append(itemIDs, line.AssetItemID)
	}

	routingKey := "transfer.status." + strings.ToLower(string(rec.Status))
	event := domain.TransferStatusEvent{
		TransferID:    rec.ID,
		Transition:    t,
		Status:        rec.Status,
		FromOfficeID:  rec.FromOfficeID,
		ToOfficeID:    rec.ToOfficeID,
		AssetItemIDs:  itemIDs,
		ActorID:       actor.Subject,
		RequisitionID: rec.RequisitionID,
		OccurredAt:    rec.UpdatedAt,
	}
	if err := s.eventProducer.Publish(ctx, s.eventExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=workflow msg=\"status event publish failed\" transfer_id=%s routing_key=%s err=%v", rec.ID, routingKey, err)
	}
}

func (s *Service) consumeMutationBudget(ctx context.Context, actor domain.Actor, scope string) error {
	if s.rateLimiter == nil || s.mutationLimitPerMinute <= 0 {
		return nil
	}
	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "transfer:"+scope, actor.Subject, s.mutationLimitPerMinute, time.Minute)
	if err != nil {
		// Fail open: a broken limiter must not block custody operations.
		log.Printf("level=warn component=workflow msg=\"rate limiter unavailable; allowing request\" actor=%s err=%v", actor.Subject, err)
		return nil
	}
	if count > s.mutationLimitPerMinute {
		return fmt.Errorf("%w: retry in %ds", ErrRateLimited, retryAfter)
	}
	return nil
}
