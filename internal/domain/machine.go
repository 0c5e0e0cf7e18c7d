/**
 * @description
 * This file implements the transfer state machine: the single transitions table
 * that defines every legal edge of the lifecycle, and the pure Apply function
 * that mutates a record along one of those edges.
 *
 * Key features:
 * - Each table entry names its source statuses, target status, evidence
 *   requirement and holder-pointer effect, so the whole lifecycle is readable
 *   in one place.
 * - Apply performs no I/O. Holder-pointer writes are returned as an effect for
 *   the repository to execute inside the same transaction as the status change.
 *
 * @dependencies
 * - time: Standard Go library.
 */

package domain

import (
	"fmt"
	"time"
)

// EvidenceKind says which document reference, if any, a transition requires.
type EvidenceKind int

const (
	EvidenceNone EvidenceKind = iota
	EvidenceHandover
	EvidenceTakeover
)

// HolderEffect is the holder-pointer side effect the repository must commit
// atomically with the status change.
type HolderEffect int

const (
	// HolderEffectNone leaves item custody untouched (items at origin or in transit).
	HolderEffectNone HolderEffect = iota
	// HolderEffectToStore moves every line's item into store custody.
	HolderEffectToStore
	// HolderEffectToDestination moves every line's item to the destination office.
	HolderEffectToDestination
	// HolderEffectRestore reverts every item still in store custody to its
	// snapshotted pre-transfer holder.
	HolderEffectRestore
)

// Rule is one row of the transition table.
type Rule struct {
	Transition Transition
	From       []Status
	To         Status
	Evidence   EvidenceKind
	Effect     HolderEffect
	// Snapshot marks the transition at which the repository must capture each
	// line's current holder so a later cancel can restore it exactly.
	Snapshot bool
}

// transitionTable is the authoritative lifecycle. Any (status, transition) pair
// not represented here is an invalid transition, replays included.
var transitionTable = []Rule{
	{Transition: TransitionApprove, From: []Status{StatusRequested}, To: StatusApproved, Snapshot: true},
	{Transition: TransitionDispatchToStore, From: []Status{StatusApproved}, To: StatusDispatchedToStore, Evidence: EvidenceHandover},
	{Transition: TransitionReceiveAtStore, From: []Status{StatusDispatchedToStore}, To: StatusReceivedAtStore, Effect: HolderEffectToStore},
	{Transition: TransitionDispatchToDest, From: []Status{StatusReceivedAtStore}, To: StatusDispatchedToDest},
	{Transition: TransitionReceiveAtDest, From: []Status{StatusDispatchedToDest}, To: StatusReceivedAtDest, Evidence: EvidenceTakeover, Effect: HolderEffectToDestination},
	{Transition: TransitionReject, From: []Status{StatusRequested, StatusApproved}, To: StatusRejected},
	{Transition: TransitionCancel, From: []Status{StatusRequested, StatusApproved, StatusDispatchedToStore, StatusReceivedAtStore, StatusDispatchedToDest}, To: StatusCancelled, Effect: HolderEffectRestore},
}

// RuleFor returns the table entry for a transition name.
func RuleFor(t Transition) (Rule, bool) {
	for _, rule := range transitionTable {
		if rule.Transition == t {
			return rule, true
		}
	}
	return Rule{}, false
}

// Transitions returns the names of all transitions in table order.
func Transitions() []Transition {
	out := make([]Transition, 0, len(transitionTable))
	for _, rule := range transitionTable {
		out = append(out, rule.Transition)
	}
	return out
}

func (r Rule) allowsFrom(s Status) bool {
	for _, from := range r.From {
		if from == s {
			return true
		}
	}
	return false
}

// Apply mutates rec along the given transition and returns the holder effect
// the caller must execute in the same transactional step. The record is only
// mutated on success.
//
// Evidence handling: an absent document reference where the table requires one
// fails with ErrMissingEvidence; a surplus reference where none is required is
// ignored (callers log it). The evidence itself must already be verified; Apply
// only records it.
func Apply(rec *TransferRecord, t Transition, actorID string, evidence *string, now time.Time) (HolderEffect, error) {
	rule, ok := RuleFor(t)
	if !ok {
		return HolderEffectNone, fmt.Errorf("%w: unknown transition %q", ErrInvalidTransition, t)
	}
	if !rule.allowsFrom(rec.Status) {
		return HolderEffectNone, fmt.Errorf("%w: %s not allowed from %s", ErrInvalidTransition, t, rec.Status)
	}

	switch rule.Evidence {
	case EvidenceHandover:
		if evidence == nil || *evidence == "" {
			return HolderEffectNone, fmt.Errorf("%w: %s requires a handover document", ErrMissingEvidence, t)
		}
		doc := *evidence
		rec.HandoverDocumentID = &doc
	case EvidenceTakeover:
		if evidence == nil || *evidence == "" {
			return HolderEffectNone, fmt.Errorf("%w: %s requires a takeover document", ErrMissingEvidence, t)
		}
		doc := *evidence
		rec.TakeoverDocumentID = &doc
	}

	rec.StatusChanges = append(rec.StatusChanges, StatusChange{
		From:       rec.Status,
		To:         rule.To,
		Transition: t,
		ActorID:    actorID,
		OccurredAt: now,
	})
	rec.Status = rule.To
	rec.UpdatedAt = now

	return rule.Effect, nil
}
