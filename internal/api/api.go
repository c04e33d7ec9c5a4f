// Package api exposes the cart and catalog HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/vstarostin/cart-discount-service/internal/domain/cart"
	"github.com/vstarostin/cart-discount-service/internal/domain/coupon"
	"github.com/vstarostin/cart-discount-service/internal/domain/product"
)

// CartService is the cart-totals computation interface the HTTP layer
// consumes. Every method returns the reconciled cart response.
type CartService interface {
	GetTotals(ctx context.Context, userID string) (*cart.Response, error)
	AddItem(ctx context.Context, userID string, productID int64, quantity int32) (*cart.Response, error)
	UpdateItemQuantity(ctx context.Context, userID string, productID int64, quantity int32) (*cart.Response, error)
	RemoveItem(ctx context.Context, userID string, productID int64) (*cart.Response, error)
	ApplyCoupon(ctx context.Context, userID, code string) (*cart.Response, error)
	RemoveCoupon(ctx context.Context, userID string) (*cart.Response, error)
}

// Handler holds the HTTP handlers for the cart API.
type Handler struct {
	carts    CartService
	products product.Repository
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(carts CartService, products product.Repository) *Handler {
	return &Handler{carts: carts, products: products}
}

// Routes returns the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/carts/{userID}", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Post("/items", h.AddItem)
		r.Put("/items/{productID}", h.UpdateItemQuantity)
		r.Delete("/items/{productID}", h.RemoveItem)
		r.Post("/coupon", h.ApplyCoupon)
		r.Delete("/coupon", h.RemoveCoupon)
	})
	r.Get("/products", h.ListProducts)
	r.Get("/products/{productID}", h.GetProduct)
	return r
}

// errorResponse is the JSON body for all error replies.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Code: status, Message: msg})
}

// writeDomainError maps domain errors to HTTP status codes: missing
// resources to 404, failed coupon validation and bad quantities to 422, an
// exhausted usage counter to 409, everything else to 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, cart.ErrNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, coupon.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, coupon.ErrUsageLimitReached):
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	var vErr *coupon.ValidationError
	if errors.As(err, &vErr) {
		writeError(w, http.StatusUnprocessableEntity, vErr.Reason)
		return
	}
	var iqErr *cart.InvalidQuantityError
	if errors.As(err, &iqErr) {
		writeError(w, http.StatusUnprocessableEntity, iqErr.Error())
		return
	}

	zctx.From(r.Context()).Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}
