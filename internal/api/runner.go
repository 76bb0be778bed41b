package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"backtest-core/internal/broker"
	"backtest-core/internal/engine"
	"backtest-core/internal/events"
	"backtest-core/internal/feed"
	"backtest-core/internal/portfolio"
	"backtest-core/internal/risk"
	"backtest-core/internal/strategy"
	"backtest-core/pkg/db"
)

// JobStatus is the lifecycle state of a submitted run.
type JobStatus string

const (
	JobRunning  JobStatus = "running"
	JobFinished JobStatus = "finished"
	JobFailed   JobStatus = "failed"
)

// RunRequest is the payload for launching a backtest.
type RunRequest struct {
	Symbol          string         `json:"symbol" binding:"required,min=1"`
	StrategyType    string         `json:"strategy_type" binding:"required,min=1"`
	Parameters      map[string]any `json:"parameters"`
	Start           time.Time      `json:"start" binding:"required"`
	End             time.Time      `json:"end" binding:"required"`
	InitialCapital  float64        `json:"initial_capital"`
	MaxPositionSize float64        `json:"max_position_size"`
	Slippage        float64        `json:"slippage"`
	Commission      float64        `json:"commission"`
	Seed            int64          `json:"seed"`
}

func (r *RunRequest) normalize() {
	if r.InitialCapital <= 0 {
		r.InitialCapital = 10000
	}
	if r.MaxPositionSize <= 0 || r.MaxPositionSize > 1 {
		r.MaxPositionSize = 0.1
	}
}

// Job tracks one backtest run from submission to completion.
type Job struct {
	ID          string          `json:"id"`
	Status      JobStatus       `json:"status"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Request     RunRequest      `json:"request"`
	Error       string          `json:"error,omitempty"`
	Results     *engine.Results `json:"results,omitempty"`
}

// Runner executes backtests asynchronously and archives finished runs.
type Runner struct {
	database     *db.Database
	bus          *events.Bus
	riskParams   risk.Parameters
	riskFreeRate float64

	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewRunner creates a runner backed by the given database.
func NewRunner(database *db.Database, bus *events.Bus, riskParams risk.Parameters, riskFreeRate float64) *Runner {
	return &Runner{
		database:     database,
		bus:          bus,
		riskParams:   riskParams,
		riskFreeRate: riskFreeRate,
		jobs:         make(map[string]*Job),
	}
}

// Submit validates the request, registers a job, and starts the run in the
// background. The returned job carries the run ID used everywhere else.
func (r *Runner) Submit(req RunRequest) (*Job, error) {
	req.normalize()
	if !req.End.After(req.Start) {
		return nil, fmt.Errorf("end %s is not after start %s", req.End, req.Start)
	}

	strat, err := strategy.Build(strategy.Config{
		ID:         req.StrategyType,
		Type:       req.StrategyType,
		Symbol:     req.Symbol,
		Parameters: req.Parameters,
	})
	if err != nil {
		return nil, fmt.Errorf("build strategy: %w", err)
	}

	job := &Job{
		ID:          uuid.NewString(),
		Status:      JobRunning,
		SubmittedAt: time.Now().UTC(),
		Request:     req,
	}
	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	go r.execute(job, strat)
	return job, nil
}

// Job returns the in-memory job for a run ID, if it is known to this process.
func (r *Runner) Job(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

// ActiveJobs returns jobs that have not finished yet.
func (r *Runner) ActiveJobs() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var active []*Job
	for _, j := range r.jobs {
		if j.Status == JobRunning {
			active = append(active, j)
		}
	}
	return active
}

func (r *Runner) execute(job *Job, strat strategy.Strategy) {
	req := job.Request
	e := engine.New(engine.Deps{
		Feed:     feed.NewSQLiteFeed(r.database, req.Symbol),
		Strategy: strat,
		Portfolio: portfolio.New(portfolio.Config{
			InitialCapital:  req.InitialCapital,
			MaxPositionSize: req.MaxPositionSize,
		}),
		Broker: broker.New(broker.Config{
			Slippage:   req.Slippage,
			Commission: req.Commission,
			Seed:       req.Seed,
		}),
		Risk:         risk.NewManager(r.riskParams),
		Bus:          r.bus,
		RiskFreeRate: r.riskFreeRate,
	})

	results, err := e.Run(context.Background(), req.Start, req.End)
	if err != nil {
		log.Printf("Run %s failed: %v", job.ID, err)
		r.finishJob(job, JobFailed, nil, err.Error())
		return
	}

	// The job ID is the run's public identity.
	results.RunID = job.ID
	if err := r.archive(results); err != nil {
		log.Printf("Run %s finished but archiving failed: %v", job.ID, err)
		r.finishJob(job, JobFinished, results, "archive: "+err.Error())
		return
	}
	r.finishJob(job, JobFinished, results, "")
}

func (r *Runner) finishJob(job *Job, status JobStatus, results *engine.Results, errMsg string) {
	r.mu.Lock()
	job.Status = status
	job.Results = results
	job.Error = errMsg
	r.mu.Unlock()
}

func (r *Runner) archive(results *engine.Results) error {
	metricsJSON, err := json.Marshal(results.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	run := db.RunRow{
		ID:             results.RunID,
		Symbol:         results.Symbol,
		Strategy:       results.Strategy,
		StartTime:      results.StartTime,
		EndTime:        results.EndTime,
		InitialCapital: results.InitialCapital,
		FinalEquity:    results.FinalEquity,
		TotalTrades:    len(results.Trades),
		MetricsJSON:    string(metricsJSON),
	}

	trades := make([]db.TradeRow, len(results.Trades))
	for i, t := range results.Trades {
		trades[i] = db.TradeRow{
			ID:         t.ID,
			RunID:      results.RunID,
			Symbol:     t.Symbol,
			Side:       string(t.Side),
			Qty:        t.Quantity,
			EntryTime:  t.EntryTime,
			ExitTime:   t.ExitTime,
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			PnL:        t.PnL,
			Commission: t.Commission,
		}
	}

	equity := make([]db.EquityRow, len(results.EquityCurve))
	for i, p := range results.EquityCurve {
		equity[i] = db.EquityRow{
			RunID:          results.RunID,
			Timestamp:      p.Timestamp,
			Equity:         p.Equity,
			Cash:           p.Cash,
			PositionsValue: p.PositionsValue,
			PositionsCount: p.PositionsCount,
			Price:          p.Price,
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return r.database.SaveRun(ctx, run, trades, equity)
}
