package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newRequestedTransfer() *TransferRecord {
	return &TransferRecord{
		ID:           uuid.New(),
		FromOfficeID: "OFF-A",
		ToOfficeID:   "OFF-B",
		Status:       StatusRequested,
		Lines:        []TransferLine{{AssetItemID: "IT-1"}},
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
}

func strPtr(s string) *string { return &s }

func TestApply_FullSuccessPath(t *testing.T) {
	rec := newRequestedTransfer()
	now := time.Now().UTC()

	steps := []struct {
		transition Transition
		evidence   *string
		wantStatus Status
		wantEffect HolderEffect
	}{
		{TransitionApprove, nil, StatusApproved, HolderEffectNone},
		{TransitionDispatchToStore, strPtr("doc-handover"), StatusDispatchedToStore, HolderEffectNone},
		{TransitionReceiveAtStore, nil, StatusReceivedAtStore, HolderEffectToStore},
		{TransitionDispatchToDest, nil, StatusDispatchedToDest, HolderEffectNone},
		{TransitionReceiveAtDest, strPtr("doc-takeover"), StatusReceivedAtDest, HolderEffectToDestination},
	}

	for _, step := range steps {
		effect, err := Apply(rec, step.transition, "actor-1", step.evidence, now)
		if err != nil {
			t.Fatalf("Apply(%s) returned error: %v", step.transition, err)
		}
		if rec.Status != step.wantStatus {
			t.Fatalf("after %s expected status %s, got %s", step.transition, step.wantStatus, rec.Status)
		}
		if effect != step.wantEffect {
			t.Fatalf("after %s expected effect %v, got %v", step.transition, step.wantEffect, effect)
		}
	}

	if rec.HandoverDocumentID == nil || *rec.HandoverDocumentID != "doc-handover" {
		t.Fatalf("expected handover document to be recorded, got %v", rec.HandoverDocumentID)
	}
	if rec.TakeoverDocumentID == nil || *rec.TakeoverDocumentID != "doc-takeover" {
		t.Fatalf("expected takeover document to be recorded, got %v", rec.TakeoverDocumentID)
	}
	if len(rec.StatusChanges) != len(steps) {
		t.Fatalf("expected %d status changes, got %d", len(steps), len(rec.StatusChanges))
	}
	if !rec.Status.IsTerminal() {
		t.Fatal("expected RECEIVED_AT_DEST to be terminal")
	}
}

func TestApply_ReplayFailsAndDoesNotMutate(t *testing.T) {
	rec := newRequestedTransfer()
	if _, err := Apply(rec, TransitionApprove, "actor-1", nil, time.Now().UTC()); err != nil {
		t.Fatalf("first approve failed: %v", err)
	}

	before := rec.Clone()
	for i := 0; i < 3; i++ {
		_, err := Apply(rec, TransitionApprove, "actor-1", nil, time.Now().UTC())
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("replayed approve: expected ErrInvalidTransition, got %v", err)
		}
	}
	if rec.Status != before.Status {
		t.Fatalf("replay mutated status: %s -> %s", before.Status, rec.Status)
	}
	if len(rec.StatusChanges) != len(before.StatusChanges) {
		t.Fatal("replay appended to status history")
	}
}

func TestApply_NoTransitionReachableFromUnlistedState(t *testing.T) {
	for _, transition := range Transitions() {
		rule, ok := RuleFor(transition)
		if !ok {
			t.Fatalf("RuleFor(%s) missing", transition)
		}
		for _, status := range []Status{
			StatusRequested, StatusApproved, StatusDispatchedToStore, StatusReceivedAtStore,
			StatusDispatchedToDest, StatusReceivedAtDest, StatusRejected, StatusCancelled,
		} {
			listed := rule.allowsFrom(status)
			rec := newRequestedTransfer()
			rec.Status = status
			_, err := Apply(rec, transition, "actor-1", strPtr("doc-any"), time.Now().UTC())
			if listed && err != nil {
				t.Fatalf("Apply(%s) from listed state %s failed: %v", transition, status, err)
			}
			if !listed && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("Apply(%s) from unlisted state %s: expected ErrInvalidTransition, got %v", transition, status, err)
			}
		}
	}
}

func TestApply_TerminalStatesAcceptNothing(t *testing.T) {
	for _, status := range []Status{StatusReceivedAtDest, StatusRejected, StatusCancelled} {
		for _, transition := range Transitions() {
			rec := newRequestedTransfer()
			rec.Status = status
			_, err := Apply(rec, transition, "actor-1", strPtr("doc-any"), time.Now().UTC())
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("Apply(%s) from terminal %s: expected ErrInvalidTransition, got %v", transition, status, err)
			}
		}
	}
}

func TestApply_MissingEvidenceFails(t *testing.T) {
	rec := newRequestedTransfer()
	rec.Status = StatusApproved

	for _, evidence := range []*string{nil, strPtr("")} {
		clone := rec.Clone()
		_, err := Apply(clone, TransitionDispatchToStore, "actor-1", evidence, time.Now().UTC())
		if !errors.Is(err, ErrMissingEvidence) {
			t.Fatalf("dispatchToStore without document: expected ErrMissingEvidence, got %v", err)
		}
		if clone.Status != StatusApproved {
			t.Fatalf("failed dispatch mutated status to %s", clone.Status)
		}
	}

	rec.Status = StatusDispatchedToDest
	_, err := Apply(rec, TransitionReceiveAtDest, "actor-1", nil, time.Now().UTC())
	if !errors.Is(err, ErrMissingEvidence) {
		t.Fatalf("receiveAtDest without document: expected ErrMissingEvidence, got %v", err)
	}
}

func TestApply_SurplusEvidenceIgnored(t *testing.T) {
	rec := newRequestedTransfer()
	effect, err := Apply(rec, TransitionApprove, "actor-1", strPtr("doc-unasked"), time.Now().UTC())
	if err != nil {
		t.Fatalf("approve with surplus evidence failed: %v", err)
	}
	if effect != HolderEffectNone {
		t.Fatalf("expected no holder effect for approve, got %v", effect)
	}
	if rec.HandoverDocumentID != nil || rec.TakeoverDocumentID != nil {
		t.Fatal("surplus evidence must not be recorded on the transfer")
	}
}

func TestApply_CancelSignalsRestoreFromEveryNonTerminalState(t *testing.T) {
	for _, status := range []Status{
		StatusRequested, StatusApproved, StatusDispatchedToStore,
		StatusReceivedAtStore, StatusDispatchedToDest,
	} {
		rec := newRequestedTransfer()
		rec.Status = status
		effect, err := Apply(rec, TransitionCancel, "actor-1", nil, time.Now().UTC())
		if err != nil {
			t.Fatalf("cancel from %s failed: %v", status, err)
		}
		if rec.Status != StatusCancelled {
			t.Fatalf("cancel from %s ended at %s", status, rec.Status)
		}
		if effect != HolderEffectRestore {
			t.Fatalf("cancel from %s: expected restore effect, got %v", status, effect)
		}
	}
}

func TestApply_RecordsActorAndHistoryOrder(t *testing.T) {
	rec := newRequestedTransfer()
	now := time.Now().UTC()

	if _, err := Apply(rec, TransitionApprove, "approver", nil, now); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if _, err := Apply(rec, TransitionReject, "rejector", nil, now.Add(time.Second)); err != nil {
		t.Fatalf("reject after approve failed: %v", err)
	}

	if len(rec.StatusChanges) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(rec.StatusChanges))
	}
	first, second := rec.StatusChanges[0], rec.StatusChanges[1]
	if first.ActorID != "approver" || second.ActorID != "rejector" {
		t.Fatalf("history actors wrong: %q then %q", first.ActorID, second.ActorID)
	}
	if first.From != StatusRequested || first.To != StatusApproved {
		t.Fatalf("first entry wrong: %s -> %s", first.From, first.To)
	}
	if second.From != StatusApproved || second.To != StatusRejected {
		t.Fatalf("second entry wrong: %s -> %s", second.From, second.To)
	}
	if second.OccurredAt.Before(first.OccurredAt) {
		t.Fatal("history out of order")
	}
	if rec.Status != StatusRejected {
		t.Fatalf("expected REJECTED, got %s", rec.Status)
	}
}
