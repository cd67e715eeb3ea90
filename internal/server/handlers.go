package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/visitra/chaincore/internal/chainerr"
	"github.com/visitra/chaincore/internal/ledger"
	"github.com/visitra/chaincore/internal/logging"
	"github.com/visitra/chaincore/internal/metrics"
	"github.com/visitra/chaincore/internal/pagination"
	"github.com/visitra/chaincore/internal/retry"
	"github.com/visitra/chaincore/internal/traces"
	"github.com/visitra/chaincore/internal/validation"
)

// healthHandler reports process health and breaker state.
func (s *Server) healthHandler(c *gin.Context) {
	breaker := s.breaker.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"env":     s.cfg.Env,
		"breaker": breaker.State.String(),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// ledgerHealthHandler returns the cached ledger health snapshot.
func (s *Server) ledgerHealthHandler(c *gin.Context) {
	snap := s.monitor.GetHealth(c.Request.Context())
	c.JSON(http.StatusOK, snap)
}

type createRecordRequest struct {
	TouristID    string `json:"touristId" binding:"required"`
	DocumentHash string `json:"documentHash" binding:"required"`
}

// createRecordHandler handles POST /records: anchors a tourist
// registration on the ledger.
func (s *Server) createRecordHandler(c *gin.Context) {
	var req createRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "touristId and documentHash are required"})
		return
	}

	req.TouristID = validation.SanitizeString(req.TouristID, 128)
	if req.TouristID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "touristId is empty or malformed"})
		return
	}
	if !validation.IsValidHex(req.DocumentHash) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "documentHash must be 0x-prefixed hex"})
		return
	}

	spanCtx, span := traces.StartSpan(c.Request.Context(), "records.Create",
		traces.Operation("create_record"),
		traces.TouristID(req.TouristID),
	)
	defer span.End()

	result, err := retry.DoValue(spanCtx, s.exec, "create_record", func(ctx context.Context) (*ledger.RecordResult, error) {
		return s.client.CreateRecord(ctx, ledger.RecordPayload{
			TouristID:    req.TouristID,
			DocumentHash: req.DocumentHash,
		})
	})
	if err != nil {
		metrics.LedgerCallsTotal.WithLabelValues("create_record", "failure").Inc()
		writeLedgerError(c, err)
		return
	}

	metrics.LedgerCallsTotal.WithLabelValues("create_record", "success").Inc()
	s.monitor.Invalidate() // record counts changed
	c.JSON(http.StatusCreated, result)
}

// verifyRecordHandler handles GET /records/:id
func (s *Server) verifyRecordHandler(c *gin.Context) {
	id := c.Param("id")

	spanCtx, span := traces.StartSpan(c.Request.Context(), "records.Verify",
		traces.Operation("verify_record"),
		traces.RecordID(id),
	)
	defer span.End()

	status, err := retry.DoValue(spanCtx, s.exec, "verify_record", func(ctx context.Context) (*ledger.RecordStatus, error) {
		return s.client.VerifyRecord(ctx, id)
	})
	if err != nil {
		metrics.LedgerCallsTotal.WithLabelValues("verify_record", "failure").Inc()
		writeLedgerError(c, err)
		return
	}

	metrics.LedgerCallsTotal.WithLabelValues("verify_record", "success").Inc()
	c.JSON(http.StatusOK, status)
}

// securityReportHandler handles GET /security/report
func (s *Server) securityReportHandler(c *gin.Context) {
	report, err := s.guard.Report(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("security report failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// securityAuditHandler handles GET /security/audit?limit=N
func (s *Server) securityAuditHandler(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	entries, next, err := s.guard.RecentEntries(c.Request.Context(), limit, c.Query("cursor"))
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
			return
		}
		logging.L(c.Request.Context()).Error("audit query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	resp := gin.H{"entries": entries, "count": len(entries)}
	if next != "" {
		resp["next_cursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// writeLedgerError maps a classified ledger failure onto the HTTP response.
func writeLedgerError(c *gin.Context, err error) {
	var ce *chainerr.Error
	if errors.As(err, &ce) {
		resp := gin.H{
			"error":     string(ce.Kind),
			"message":   ce.Message,
			"retryable": ce.Retryable,
		}
		if ra, ok := ce.Details["retryAfter"]; ok {
			resp["retry_after"] = ra
		}
		c.JSON(chainerr.HTTPStatus(ce), resp)
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
