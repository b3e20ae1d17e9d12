package handlers

import (
	"net/http"
	"strconv"

	"polymarket-copytrader/service"
	"polymarket-copytrader/syncer"

	"github.com/gin-gonic/gin"
)

// Handler exposes the copy-trading API.
type Handler struct {
	service *service.Service
	worker  *syncer.Worker
}

// NewHandler creates the HTTP handler set.
func NewHandler(svc *service.Service, worker *syncer.Worker) *Handler {
	return &Handler{service: svc, worker: worker}
}

type enableCopyRequest struct {
	UserAddress    string  `json:"user_address" binding:"required"`
	TargetTrader   string  `json:"target_trader" binding:"required"`
	Label          string  `json:"label"`
	CopyPercentage float64 `json:"copy_percentage" binding:"required"`
}

type disableCopyRequest struct {
	UserAddress  string `json:"user_address" binding:"required"`
	TargetTrader string `json:"target_trader" binding:"required"`
}

// EnableCopy creates or updates a copy pairing.
func (h *Handler) EnableCopy(c *gin.Context) {
	var req enableCopyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_address, target_trader and copy_percentage are required"})
		return
	}

	cfg, err := h.service.EnableCopy(c.Request.Context(), req.UserAddress, req.TargetTrader, req.Label, req.CopyPercentage)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"config": cfg})
}

// DisableCopy turns a pairing off and cancels its open orders.
func (h *Handler) DisableCopy(c *gin.Context) {
	var req disableCopyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_address and target_trader are required"})
		return
	}

	if err := h.service.DisableCopy(c.Request.Context(), req.UserAddress, req.TargetTrader); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"disabled": true})
}

// GetStatus returns active configs, pending orders, and total P&L for a user.
func (h *Handler) GetStatus(c *gin.Context) {
	user := c.Query("user")
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user query parameter required"})
		return
	}

	status, err := h.service.GetStatus(c.Request.Context(), user)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, status)
}

// GetHistory returns the user's executed copy trades over the last N days.
func (h *Handler) GetHistory(c *gin.Context) {
	user := c.Query("user")
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user query parameter required"})
		return
	}

	days := 30
	if daysStr := c.Query("days"); daysStr != "" {
		d, err := strconv.Atoi(daysStr)
		if err != nil || d < 1 || d > 365 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
			return
		}
		days = d
	}

	trades, err := h.service.GetHistory(c.Request.Context(), user, days)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trades": trades,
		"count":  len(trades),
		"days":   days,
	})
}

// GetScheduler reports the state of the two background loops.
func (h *Handler) GetScheduler(c *gin.Context) {
	jobs := h.worker.Status()
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// RegisterRoutes mounts the API under /api/copy.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	copyGroup := router.Group("/api/copy")
	{
		copyGroup.POST("/enable", h.EnableCopy)
		copyGroup.POST("/disable", h.DisableCopy)
		copyGroup.GET("/status", h.GetStatus)
		copyGroup.GET("/history", h.GetHistory)
		copyGroup.GET("/scheduler", h.GetScheduler)
	}
}
