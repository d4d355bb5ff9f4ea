package backtest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"upbit-trading-bot/internal/logging"
	"upbit-trading-bot/internal/upbit"
	"upbit-trading-bot/internal/workerpool"
)

// ErrNoResults means every market in a multi-market run failed
var ErrNoResults = errors.New("backtest: no market produced a result")

// MarketBars is one market's candle history
type MarketBars struct {
	Market string
	Bars   []upbit.Candle
}

// MultiRunner fans one runner task per market out over the worker pool and
// aggregates the results.
type MultiRunner struct {
	runner *Runner
	pool   *workerpool.Pool
	logger *logging.Logger
}

// NewMultiRunner creates a multi-market runner over a shared pool
func NewMultiRunner(runner *Runner, pool *workerpool.Pool, logger *logging.Logger) *MultiRunner {
	if logger == nil {
		logger = logging.WithComponent("backtest")
	}
	return &MultiRunner{runner: runner, pool: pool, logger: logger}
}

// Run replays every market and returns the aggregate summary. onProgress, when
// non-nil, is called after each market finishes. Cancellation is cooperative:
// markets not yet started when ctx ends are recorded as failed, markets
// already replaying run to completion.
func (m *MultiRunner) Run(ctx context.Context, markets []MarketBars, onProgress func(done, total int)) (*Summary, error) {
	total := len(markets)
	if total == 0 {
		return nil, ErrNoResults
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []*Result
		failed  = make(map[string]string)
		done    int
	)

	finish := func(market string, res *Result, err error) {
		mu.Lock()
		if err != nil {
			failed[market] = err.Error()
		} else {
			results = append(results, res)
		}
		done++
		d := done
		mu.Unlock()
		if onProgress != nil {
			onProgress(d, total)
		}
	}

	for _, mb := range markets {
		mb := mb
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if ctx.Err() != nil {
				finish(mb.Market, nil, ctx.Err())
				return
			}
			res, err := m.runner.Run(mb.Market, mb.Bars)
			if err != nil {
				m.logger.Warn("market replay failed", "market", mb.Market, "error", err)
			}
			finish(mb.Market, res, err)
		}
		if err := m.pool.Submit(task); err != nil {
			wg.Done()
			finish(mb.Market, nil, err)
		}
	}
	wg.Wait()

	if len(results) == 0 {
		return nil, ErrNoResults
	}

	// Deterministic ordering regardless of worker scheduling
	sort.Slice(results, func(i, j int) bool { return results[i].Market < results[j].Market })

	summary := &Summary{Results: results}
	if len(failed) > 0 {
		summary.Failed = failed
	}

	sum := 0.0
	for _, r := range results {
		sum += r.TotalProfitRate
		if summary.Best == nil || r.TotalProfitRate > summary.Best.TotalProfitRate {
			summary.Best = r
		}
		if summary.Worst == nil || r.TotalProfitRate < summary.Worst.TotalProfitRate {
			summary.Worst = r
		}
	}
	summary.Average = sum / float64(len(results))
	return summary, nil
}
