package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/rl1809/order-saga/internal/core/service"
)

type DLQReprocessor interface {
	Reprocess(ctx context.Context, req service.ReprocessRequest) (service.ReprocessResult, error)
}

// WorkerHandler exposes operator endpoints of the worker.
type WorkerHandler struct {
	dlq DLQReprocessor
	log zerolog.Logger
}

func NewWorkerHandler(dlq DLQReprocessor, log zerolog.Logger) *WorkerHandler {
	return &WorkerHandler{dlq: dlq, log: log.With().Str("component", "http").Logger()}
}

func (h *WorkerHandler) Register(r gin.IRouter) {
	r.POST("/api/worker/dlq/reprocess", h.ReprocessDLQ)
}

// ReprocessDLQ handles POST /api/worker/dlq/reprocess?token=&dryRun=&batchSize=&target=
func (h *WorkerHandler) ReprocessDLQ(c *gin.Context) {
	req := service.ReprocessRequest{
		Token:  c.Query("token"),
		Target: c.Query("target"),
	}

	if v := c.Query("dryRun"); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid dryRun"})
			return
		}
		req.DryRun = dryRun
	}
	if v := c.Query("batchSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid batchSize"})
			return
		}
		req.BatchSize = n
	}

	result, err := h.dlq.Reprocess(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
