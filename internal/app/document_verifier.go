/**
 * @description
 * This file adapts the document store client to the workflow's evidence
 * contract. The workflow only cares whether a document exists, belongs to the
 * expected office, and has the expected type; every mismatch collapses into
 * domain.ErrInvalidEvidence so the API layer maps it uniformly.
 *
 * @dependencies
 * - context, errors, fmt: Standard Go libraries.
 * - internal/domain: For the sentinel error.
 * - pkg/documentclient: The document store HTTP client.
 */

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/assetra/transfer-service/internal/domain"
	"github.com/assetra/transfer-service/pkg/documentclient"
)

// DocumentStoreVerifier verifies evidence documents against the document store.
type DocumentStoreVerifier struct {
	client *documentclient.Client
}

// NewDocumentStoreVerifier wraps a document store client as a DocumentVerifier.
func NewDocumentStoreVerifier(client *documentclient.Client) *DocumentStoreVerifier {
	return &DocumentStoreVerifier{client: client}
}

// VerifyDocument checks that the document exists, is owned by officeID and has
// type wantType. Any failure of those checks is domain.ErrInvalidEvidence;
// transport failures are returned as-is so the caller can distinguish a
// rejected document from an unreachable store.
func (v *DocumentStoreVerifier) VerifyDocument(ctx context.Context, documentID, officeID, wantType string) error {
	doc, err := v.client.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, documentclient.ErrDocumentNotFound) {
			return fmt.Errorf("%w: document %s does not exist", domain.ErrInvalidEvidence, documentID)
		}
		var storeErr *documentclient.ErrorResponse
		if errors.As(err, &storeErr) {
			return fmt.Errorf("%w: document store rejected %s: %v", domain.ErrInvalidEvidence, documentID, storeErr)
		}
		return fmt.Errorf("document verification failed for %s: %w", documentID, err)
	}

	if doc.Data.Type != wantType {
		return fmt.Errorf("%w: document %s has type %s, want %s", domain.ErrInvalidEvidence, documentID, doc.Data.Type, wantType)
	}
	if doc.Data.Attributes.OfficeID != officeID {
		return fmt.Errorf("%w: document %s belongs to office %s, want %s", domain.ErrInvalidEvidence, documentID, doc.Data.Attributes.OfficeID, officeID)
	}
	return nil
}
