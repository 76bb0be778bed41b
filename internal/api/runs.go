package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"backtest-core/pkg/db"
)

type listRunsQuery struct {
	Limit int `form:"limit"`
}

func (q *listRunsQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 200 {
		q.Limit = 200
	}
}

// createBacktest launches a run and returns its ID immediately.
func (s *Server) createBacktest(c *gin.Context) {
	var req RunRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": err.Error(),
		})
		return
	}

	job, err := s.Runner.Submit(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_RUN",
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run_id": job.ID,
		"status": job.Status,
	})
}

// listBacktests returns in-flight jobs plus the archived run summaries.
func (s *Server) listBacktests(c *gin.Context) {
	var q listRunsQuery
	if err := c.BindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_QUERY",
			"error": err.Error(),
		})
		return
	}
	q.normalize()

	runs, err := s.DB.ListRuns(c.Request.Context(), q.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	summaries := make([]gin.H, 0, len(runs))
	for _, r := range runs {
		summaries = append(summaries, runSummary(r))
	}

	c.JSON(http.StatusOK, gin.H{
		"active":    s.Runner.ActiveJobs(),
		"completed": summaries,
	})
}

// getBacktest returns the live job when this process ran it, otherwise the
// archived summary.
func (s *Server) getBacktest(c *gin.Context) {
	id := c.Param("id")

	if job, ok := s.Runner.Job(id); ok {
		c.JSON(http.StatusOK, job)
		return
	}

	run, err := s.DB.GetRun(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "RUN_NOT_FOUND",
			"error": "unknown run id",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, runSummary(*run))
}

func (s *Server) getBacktestTrades(c *gin.Context) {
	id := c.Param("id")

	trades, err := s.DB.GetRunTrades(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id": id,
		"trades": trades,
		"count":  len(trades),
	})
}

func runSummary(r db.RunRow) gin.H {
	return gin.H{
		"run_id":          r.ID,
		"symbol":          r.Symbol,
		"strategy":        r.Strategy,
		"start_time":      r.StartTime,
		"end_time":        r.EndTime,
		"initial_capital": r.InitialCapital,
		"final_equity":    r.FinalEquity,
		"total_trades":    r.TotalTrades,
		"metrics":         r.MetricsJSON,
		"created_at":      r.CreatedAt,
	}
}
