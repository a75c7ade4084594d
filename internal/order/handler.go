package order

import (
	"errors"
	"net/http"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/logger"
	"github.com/Sokol111/ecommerce-outbox/pkg/http/problems"
	"github.com/Sokol111/ecommerce-outbox/pkg/persistence"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type createOrderRequest struct {
	ProductID string `json:"productId"`
}

type orderResponse struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	CreatedAt time.Time `json:"createdAt"`
}

type handler struct {
	service Service
}

func newHandler(service Service) *handler {
	return &handler{service: service}
}

func registerRoutes(mux *http.ServeMux, h *handler) {
	mux.HandleFunc("POST /api/v1/orders", h.createOrder)
}

func (h *handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		problems.Write(w, r, problems.BadRequest("request body must be a JSON object"))
		return
	}

	o, err := h.service.Create(r.Context(), req.ProductID)
	switch {
	case errors.Is(err, ErrInvalidProductID):
		problems.Write(w, r, problems.BadRequest(err.Error(), problems.FieldError{
			Field:   "productId",
			Message: "must not be blank",
		}))
		return
	case errors.Is(err, persistence.ErrUnavailable):
		problems.Write(w, r, problems.ServiceUnavailable("order store unavailable"))
		return
	case err != nil:
		logger.Get(r.Context()).Error("failed to create order", zap.Error(err))
		problems.Write(w, r, problems.Internal())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(orderResponse{
		ID:        o.ID.String(),
		ProductID: o.ProductID,
		CreatedAt: o.CreatedAt,
	})
}
