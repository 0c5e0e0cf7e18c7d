/**
 * @description
 * This package provides a client for the document store service. The transfer
 * workflow references handover and takeover documents by id; this client
 * fetches a document's metadata so the workflow can check its owning office
 * and type before accepting it as transition evidence.
 *
 * @dependencies
 * - context, encoding/json, fmt, io, net/http, time: Standard Go libraries.
 */
package documentclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ErrDocumentNotFound indicates the document store has no document with the
// requested id.
var ErrDocumentNotFound = errors.New("document not found")

// Client is a client for the document store API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new document store client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Document is the metadata the document store returns for a stored document.
type Document struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			OfficeID  string    `json:"office_id"`
			FileName  string    `json:"file_name"`
			CreatedAt time.Time `json:"created_at"`
		} `json:"attributes"`
	} `json:"data"`
}

// ErrorResponse represents an error from the document store API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("document store error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown document store error"
}

// GetDocument fetches a document's metadata by id. A 404 from the store is
// returned as ErrDocumentNotFound.
func (c *Client) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	url := c.BaseURL + "/api/v1/documents/" + documentID

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create document request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute document request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read document response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=document_client op=get_document document_id=%s status=%d msg=\"non-2xx response (unparsable error body)\"", documentID, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=document_client op=get_document document_id=%s status=%d title=%q detail=%q", documentID, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var doc Document
	if err := json.Unmarshal(bodyBytes, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document response: %w", err)
	}

	return &doc, nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}

func firstErrorDetail(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Detail
}
