/**
 * @description
 * This file sets up the HTTP router for the transfer-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// TransferRoutes creates and returns a new router for the transfer service.
func TransferRoutes(h *TransferHandlers, jwksURL string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Route("/transfers", func(r chi.Router) {
			r.Post("/", h.CreateTransferHandler)
			r.Get("/", h.ListTransfersHandler)
			r.Get("/office/{officeID}", h.ListTransfersByOfficeHandler)
			r.Get("/asset-item/{assetItemID}", h.ListTransfersByAssetItemHandler)

			r.Route("/{transferID}", func(r chi.Router) {
				r.Get("/", h.GetTransferHandler)
				r.Delete("/", h.DeleteTransferHandler)

				r.Post("/approve", h.ApproveTransferHandler)
				r.Post("/reject", h.RejectTransferHandler)
				r.Post("/cancel", h.CancelTransferHandler)
				r.Post("/dispatch-to-store", h.DispatchToStoreHandler)
				r.Post("/receive-at-store", h.ReceiveAtStoreHandler)
				r.Post("/dispatch-to-dest", h.DispatchToDestHandler)
				r.Post("/receive-at-dest", h.ReceiveAtDestHandler)
			})
		})
	})

	return r
}
