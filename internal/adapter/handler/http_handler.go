// Package handler exposes the terminal's HTTP surface over gin.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/labmart/pos/internal/core/domain"
	"github.com/labmart/pos/internal/core/service"
	"github.com/labmart/pos/internal/logging"
	"github.com/labmart/pos/internal/port"
)

type HTTPHandler struct {
	checkout *service.CheckoutService
	report   *service.ReportService
	catalog  port.CatalogRepository
}

func NewHTTPHandler(checkout *service.CheckoutService, report *service.ReportService, catalog port.CatalogRepository) *HTTPHandler {
	return &HTTPHandler{checkout: checkout, report: report, catalog: catalog}
}

// Register mounts all routes on r.
func (h *HTTPHandler) Register(r *gin.Engine) {
	r.POST("/checkout", h.Checkout)
	r.GET("/export", h.ExportCSV)
	r.GET("/product/:barcode", h.GetProduct)
	r.GET("/products", h.ListProducts)
	r.POST("/external/camera", h.CameraEvent)
	r.GET("/health", h.HealthCheck)
}

type checkoutItem struct {
	Barcode  string `json:"barcode" binding:"required"`
	Quantity int    `json:"quantity"`
}

type checkoutRequest struct {
	ParticipantExternalID string         `json:"participant_external_id" binding:"required"`
	Items                 []checkoutItem `json:"items"`
}

type checkoutResponse struct {
	TransactionID int64   `json:"transaction_id"`
	TotalAmount   float64 `json:"total_amount"`
	Status        string  `json:"status"`
}

func (h *HTTPHandler) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	// Clients retrying after a transport failure reuse the same id; a
	// server-generated one never dedups.
	requestID := RequestID(c)

	basket := make([]domain.BasketLine, 0, len(req.Items))
	for _, it := range req.Items {
		basket = append(basket, domain.BasketLine{Barcode: it.Barcode, Quantity: it.Quantity})
	}

	receipt, err := h.checkout.Checkout(c.Request.Context(), requestID, req.ParticipantExternalID, basket)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, port.ErrParticipantNotFound),
			errors.Is(err, port.ErrProductNotFound):
			status = http.StatusNotFound
		case errors.Is(err, port.ErrInsufficientStock),
			errors.Is(err, service.ErrInvalidRequest):
			status = http.StatusBadRequest
		case errors.Is(err, service.ErrDuplicateRequest):
			status = http.StatusConflict
		}

		if status == http.StatusInternalServerError {
			logging.From(c).Error("checkout failed", "error", err)
			c.JSON(status, gin.H{"error": "internal error"})
		} else {
			c.JSON(status, gin.H{"error": err.Error()})
		}
		observeCheckout(statusLabel(status))
		return
	}

	logging.From(c).Info("checkout committed",
		"transaction_id", receipt.TransactionID,
		"participant", req.ParticipantExternalID,
		"total", receipt.TotalAmount.StringFixed(2),
	)
	observeCheckout("success")

	c.JSON(http.StatusOK, checkoutResponse{
		TransactionID: receipt.TransactionID,
		TotalAmount:   receipt.TotalAmount.InexactFloat64(),
		Status:        "success",
	})
}

func (h *HTTPHandler) ExportCSV(c *gin.Context) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename=research_data.csv`)
	c.Status(http.StatusOK)

	if err := h.report.WriteCSV(c.Request.Context(), c.Writer); err != nil {
		// Headers are gone; all we can do is log and cut the stream short.
		logging.From(c).Error("export failed", "error", err)
	}
}

type productResponse struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Barcode       string  `json:"barcode"`
	Price         float64 `json:"price"`
	StockQuantity int     `json:"stock_quantity"`
	ExpiryDate    string  `json:"expiry_date"`
}

func toProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:            p.ID,
		Name:          p.Name,
		Barcode:       p.Barcode,
		Price:         p.Price.InexactFloat64(),
		StockQuantity: p.StockQuantity,
		ExpiryDate:    p.ExpiryDate.Format("2006-01-02"),
	}
}

func (h *HTTPHandler) GetProduct(c *gin.Context) {
	product, err := h.catalog.LookupProduct(c.Request.Context(), c.Param("barcode"))
	if err != nil {
		if errors.Is(err, port.ErrProductNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		logging.From(c).Error("product lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, toProductResponse(*product))
}

func (h *HTTPHandler) ListProducts(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context())
	if err != nil {
		logging.From(c).Error("catalog listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	c.JSON(http.StatusOK, out)
}

// CameraEvent is the mock sink for the external camera system; payloads are
// acknowledged and logged, nothing more.
func (h *HTTPHandler) CameraEvent(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	logging.From(c).Debug("camera event received", "payload", payload)
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func statusLabel(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusBadRequest:
		return "rejected"
	case http.StatusConflict:
		return "duplicate"
	default:
		return "error"
	}
}
