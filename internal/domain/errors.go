/**
 * @description
 * This file defines the sentinel errors shared by the workflow engine. Every
 * failure a caller can act on maps to exactly one of these kinds; callers use
 * errors.Is to select the right HTTP status or retry policy.
 *
 * @notes
 * - The guard distinguishes ErrNotAuthorized from ErrInvalidTransition so the
 *   API layer can answer 403 vs 409 correctly.
 * - None of these are transient: the engine never retries a failed request.
 */

package domain

import "errors"

var (
	// ErrNotFound indicates an unknown transfer or asset item id.
	ErrNotFound = errors.New("not found")
	// ErrNotAuthorized indicates the actor may not perform the operation on this transfer.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrInvalidTransition indicates the requested transition is not legal from the
	// transfer's current status, including replay of an already-applied transition.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrMissingEvidence indicates a custody-changing transition was attempted
	// without its required document reference.
	ErrMissingEvidence = errors.New("missing evidence document")
	// ErrInvalidEvidence indicates the supplied document exists but belongs to the
	// wrong office or is of the wrong type, or does not exist at all.
	ErrInvalidEvidence = errors.New("invalid evidence document")
	// ErrConflict indicates an asset item is already committed to another open
	// transfer, or a delete was attempted past REQUESTED.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates malformed input, e.g. empty lines or identical offices.
	ErrValidation = errors.New("validation failed")
)
