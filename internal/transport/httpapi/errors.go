package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

type errorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

type stockDetails struct {
	ProductID int64 `json:"id_product"`
	Requested int64 `json:"requested"`
	Available int64 `json:"available"`
}

// errorStatus сопоставляет ошибку ядра с HTTP-кодом и публичным сообщением.
// Текст внутренних ошибок наружу не попадает.
func errorStatus(err error) (int, errorResponse) {
	var (
		stockErr      *domain.InsufficientStockError
		transitionErr *domain.IllegalTransitionError
	)

	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, errorResponse{Error: "Unauthorized"}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, errorResponse{Error: "Forbidden: insufficient permissions"}
	case errors.As(err, &stockErr):
		msg := "Insufficient stock"
		if stockErr.ProductName != "" {
			msg = "Insufficient stock for " + stockErr.ProductName
		}
		return http.StatusConflict, errorResponse{Error: msg, Details: stockDetails{
			ProductID: stockErr.ProductID,
			Requested: stockErr.Requested,
			Available: stockErr.Available,
		}}
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, errorResponse{Error: "Insufficient stock"}
	case errors.As(err, &transitionErr):
		return http.StatusConflict, errorResponse{
			Error: fmt.Sprintf("Cannot change status from %s to %s", transitionErr.From, transitionErr.To),
		}
	case errors.Is(err, domain.ErrOrderStatusUnknown):
		return http.StatusBadRequest, errorResponse{Error: "Invalid status. Allowed: pending, paid, cancelled"}
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusBadRequest, errorResponse{Error: "One or more products do not exist"}
	case errors.Is(err, domain.ErrProductUnavailable):
		return http.StatusBadRequest, errorResponse{Error: "Product is not available"}
	case errors.Is(err, domain.ErrMixedCurrency):
		return http.StatusBadRequest, errorResponse{Error: "Mixed currencies are not supported"}
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, errorResponse{Error: "Order not found"}
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusConflict, errorResponse{Error: "Idempotency-Key was already used with a different request"}
	case errors.Is(err, idempotency.ErrInFlight):
		return http.StatusConflict, errorResponse{Error: "A request with this Idempotency-Key is still processing"}
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, errorResponse{Error: "Concurrent update, please retry"}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, errorResponse{Error: "Request timed out"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "Internal server error"}
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorStatus(err)

	entry := h.logger.WithError(err).WithFields(log.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
		"status":     status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	writeJSON(w, status, body)
}
