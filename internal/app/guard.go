/**
 * @description
 * This file implements the transition guard: the single pure predicate deciding
 * whether an actor may perform a transition on a transfer, and whether an actor
 * may read a transfer at all. Every role check in the service funnels through
 * here; there is no second source of permission truth.
 *
 * Rules, applied in order:
 *  1. Org admins may perform any transition on any transfer.
 *  2. approve/reject belong to the destination office (destination authorizes intake).
 *  3. dispatchToStore/cancel belong to the origin office or a store operator.
 *  4. receiveAtStore/dispatchToDest require store-operator scope.
 *  5. receiveAtDest belongs to the destination office.
 *  6. Reads are scoped to origin office, destination office, or store scope;
 *     org admins read everything.
 *
 * @dependencies
 * - internal/domain: For the transfer model and sentinel errors.
 */

package app

import (
	"fmt"

	"github.com/assetra/transfer-service/internal/domain"
)

// Guard evaluates transition authorization. It performs no I/O; state
// eligibility is re-checked by the repository under its record lock.
type Guard struct{}

// Allow reports whether the actor may perform the transition on the transfer.
// It returns ErrInvalidTransition for unknown transitions and ErrNotAuthorized
// for role/office mismatches, so callers can pick the right error code.
func (Guard) Allow(rec *domain.TransferRecord, t domain.Transition, actor domain.Actor) error {
	if _, ok := domain.RuleFor(t); !ok {
		return fmt.Errorf("%w: unknown transition %q", domain.ErrInvalidTransition, t)
	}
	if actor.OrgAdmin {
		return nil
	}

	switch t {
	case domain.TransitionApprove, domain.TransitionReject:
		if actor.OfficeID == rec.ToOfficeID {
			return nil
		}
	case domain.TransitionDispatchToStore, domain.TransitionCancel:
		if actor.OfficeID == rec.FromOfficeID || actor.StoreOperator {
			return nil
		}
	case domain.TransitionReceiveAtStore, domain.TransitionDispatchToDest:
		if actor.StoreOperator {
			return nil
		}
	case domain.TransitionReceiveAtDest:
		if actor.OfficeID == rec.ToOfficeID {
			return nil
		}
	}

	return fmt.Errorf("%w: actor %s may not %s transfer %s", domain.ErrNotAuthorized, actor.Subject, t, rec.ID)
}

// CanRead reports whether the actor may see the transfer at all.
func (Guard) CanRead(rec *domain.TransferRecord, actor domain.Actor) bool {
	if actor.OrgAdmin {
		return true
	}
	if actor.StoreOperator {
		return true
	}
	return actor.OfficeID != "" && (actor.OfficeID == rec.FromOfficeID || actor.OfficeID == rec.ToOfficeID)
}

// CanCreate reports whether the actor may open a transfer out of the given
// origin office. Creation is an origin-office action; approval authority stays
// with the destination.
func (Guard) CanCreate(fromOfficeID string, actor domain.Actor) bool {
	if actor.OrgAdmin {
		return true
	}
	return actor.OfficeID != "" && actor.OfficeID == fromOfficeID
}
