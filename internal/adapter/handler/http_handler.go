package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rl1809/qr-fulfillment/internal/core/domain"
	"github.com/rl1809/qr-fulfillment/internal/core/service"
)

type HTTPHandler struct {
	fulfillment *service.FulfillmentService
	pool        *service.PoolManager
	media       *service.MediaGateway
	commands    *service.CommandService
	logger      *zap.Logger
}

type CreateSaleHTTPRequest struct {
	SellerID     string `json:"seller_id"`
	ManagerID    string `json:"manager_id"`
	ProductID    string `json:"product_id"`
	SiteCode     string `json:"site_code"`
	Price        *int64 `json:"price"`
	ShippingCode string `json:"shipping_code"`
	// Evidence is base64 in the JSON body.
	Evidence []byte `json:"evidence,omitempty"`
}

type CreateSaleHTTPResponse struct {
	Success            bool   `json:"success"`
	Message            string `json:"message"`
	Code               string `json:"code,omitempty"`
	SaleID             string `json:"sale_id,omitempty"`
	MediaURL           string `json:"media_url,omitempty"`
	UnitBound          bool   `json:"unit_bound"`
	NotificationQueued bool   `json:"notification_queued"`
}

type MarkShippedHTTPRequest struct {
	SellerID string `json:"seller_id"`
	SaleID   string `json:"sale_id"`
}

type CommandHTTPRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

type CommandHTTPResponse struct {
	Text         string `json:"text,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
	FallbackText string `json:"fallback_text,omitempty"`
}

type StatusHTTPResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func NewHTTPHandler(fulfillment *service.FulfillmentService, pool *service.PoolManager, media *service.MediaGateway, commands *service.CommandService, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{
		fulfillment: fulfillment,
		pool:        pool,
		media:       media,
		commands:    commands,
		logger:      logger,
	}
}

// Router builds the gin engine. metrics may be nil.
func (h *HTTPHandler) Router(metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(h.logger))

	r.GET("/health", h.HealthCheck)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	api := r.Group("/api")
	api.POST("/sales", h.CreateSale)
	api.POST("/ops/mark-shipped", h.MarkShipped)
	api.GET("/products/:productId/stock", h.Stock)
	api.POST("/commands", h.Command)

	img := r.Group(service.MediaRoutePrefix)
	img.GET("/:ownerId/:orderId", h.Media)
	img.HEAD("/:ownerId/:orderId", h.Media)

	return r
}

func (h *HTTPHandler) CreateSale(c *gin.Context) {
	var req CreateSaleHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, CreateSaleHTTPResponse{
			Success: false,
			Message: "invalid request body",
			Code:    "invalid_request",
		})
		return
	}

	res, err := h.fulfillment.CreateSale(c.Request.Context(), service.CreateSaleRequest{
		SellerID:     req.SellerID,
		ManagerID:    req.ManagerID,
		ProductID:    req.ProductID,
		SiteCode:     domain.SiteCode(req.SiteCode),
		Price:        req.Price,
		ShippingCode: req.ShippingCode,
		Evidence:     req.Evidence,
	})
	if err != nil {
		status, code, message := classify(err)
		resp := CreateSaleHTTPResponse{Success: false, Message: message, Code: code}
		if res != nil && res.Committed {
			// the sale exists; tell the caller which one so the projection can be repaired
			resp.SaleID = res.SaleID
			resp.Message = "sale recorded but order view is pending"
		}
		if status >= http.StatusInternalServerError {
			h.logger.Error("create sale failed", zap.String("seller_id", req.SellerID), zap.Error(err))
		}
		_ = c.Error(err)
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusCreated, CreateSaleHTTPResponse{
		Success:            true,
		Message:            "sale created",
		SaleID:             res.SaleID,
		MediaURL:           res.MediaURL,
		UnitBound:          res.UnitBound,
		NotificationQueued: res.NotificationQueued,
	})
}

func (h *HTTPHandler) MarkShipped(c *gin.Context) {
	var req MarkShippedHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, StatusHTTPResponse{Success: false, Message: "invalid request body", Code: "invalid_request"})
		return
	}

	if err := h.fulfillment.MarkShipped(c.Request.Context(), req.SellerID, req.SaleID); err != nil {
		status, code, message := classify(err)
		_ = c.Error(err)
		c.JSON(status, StatusHTTPResponse{Success: false, Message: message, Code: code})
		return
	}
	c.JSON(http.StatusOK, StatusHTTPResponse{Success: true, Message: "marked as shipped"})
}

// Media serves the artifact of an owner's order. Anything that goes wrong is a
// plain 404 so the endpoint does not reveal which orders exist.
func (h *HTTPHandler) Media(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	artifact, err := h.media.Resolve(c.Request.Context(), c.Param("ownerId"), c.Param("orderId"))
	if err != nil {
		c.String(http.StatusNotFound, "Not Found")
		return
	}

	if c.Request.Method == http.MethodHead {
		c.Header("Content-Type", artifact.ContentType)
		c.Header("Content-Length", strconv.Itoa(len(artifact.Data)))
		c.Status(http.StatusOK)
		return
	}
	c.Data(http.StatusOK, artifact.ContentType, artifact.Data)
}

func (h *HTTPHandler) Stock(c *gin.Context) {
	level, err := h.pool.Stock(c.Request.Context(), c.Param("productId"))
	if err != nil {
		status, code, message := classify(err)
		_ = c.Error(err)
		c.JSON(status, StatusHTTPResponse{Success: false, Message: message, Code: code})
		return
	}
	c.JSON(http.StatusOK, level)
}

func (h *HTTPHandler) Command(c *gin.Context) {
	var req CommandHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, StatusHTTPResponse{Success: false, Message: "invalid request body", Code: "invalid_request"})
		return
	}
	reply := h.commands.Interpret(c.Request.Context(), req.UserID, req.Text)
	c.JSON(http.StatusOK, CommandHTTPResponse{
		Text:         reply.Text,
		ImageURL:     reply.ImageURL,
		FallbackText: reply.FallbackText,
	})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
