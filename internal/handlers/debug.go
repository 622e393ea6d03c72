package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"conversation-service/internal/services"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, reconciler *services.Reconciler, log *zap.Logger, enabled bool) {
	if !enabled {
		return
	}

	router.POST("/debug/reconcile", func(c *gin.Context) {
		if reconciler == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reconciler not configured"})
			return
		}
		res, err := reconciler.Run(c.Request.Context())
		if err != nil {
			respondError(c, log, err)
			return
		}
		log.Info("manual reconciliation",
			zap.String("request_id", requestIDFromContext(c)),
			zap.Int("pairs", res.Pairs),
			zap.Ints("deactivated", res.Deactivated))
		c.JSON(http.StatusOK, res)
	})
}
