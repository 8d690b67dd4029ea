package processors

import (
	"encoding/json"
	"fmt"
	"math"

	"backtest-api/internal/core"
)

type Candle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

type BacktestRequest struct {
	Candles        []Candle `json:"candles"`
	InitialCapital float64  `json:"initial_capital"`
	EmaFast        int      `json:"ema_fast"`
	EmaSlow        int      `json:"ema_slow"`
}

type Trade struct {
	EntryTime  int64   `json:"entry_time"`
	ExitTime   int64   `json:"exit_time"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	ReturnPct  float64 `json:"return_pct"`
}

type BacktestResult struct {
	FinalEquity    float64 `json:"final_equity"`
	TotalReturnPct float64 `json:"total_return_pct"`
	TradeCount     int     `json:"trade_count"`
	WinRatePct     float64 `json:"win_rate_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Trades         []Trade `json:"trades"`
}

// Backtest runs a long/flat EMA-crossover walk over the candles in the
// payload: enter when the fast EMA crosses above the slow, exit when it
// crosses back below. Progress is reported per bar.
func Backtest(payload json.RawMessage, progress core.ProgressFunc) (json.RawMessage, error) {
	var req BacktestRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("failed to parse backtest payload: %w", err)
	}
	normalize(&req)

	if len(req.Candles) < req.EmaSlow+1 {
		return nil, fmt.Errorf("need at least %d candles, got %d", req.EmaSlow+1, len(req.Candles))
	}

	result := runWalk(req, progress)

	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode backtest result: %w", err)
	}
	return out, nil
}

type OptimizeRequest struct {
	Candles        []Candle `json:"candles"`
	InitialCapital float64  `json:"initial_capital"`
	FastPeriods    []int    `json:"fast_periods"`
	SlowPeriods    []int    `json:"slow_periods"`
}

type OptimizeResult struct {
	BestFast      int     `json:"best_fast"`
	BestSlow      int     `json:"best_slow"`
	BestReturnPct float64 `json:"best_return_pct"`
	Combinations  int     `json:"combinations"`
}

// Optimize grid-sweeps EMA period pairs and reports the best total
// return. Progress is reported per combination.
func Optimize(payload json.RawMessage, progress core.ProgressFunc) (json.RawMessage, error) {
	var req OptimizeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("failed to parse optimize payload: %w", err)
	}
	if req.InitialCapital <= 0 {
		req.InitialCapital = 10000
	}
	if len(req.FastPeriods) == 0 {
		req.FastPeriods = []int{5, 9, 12, 15}
	}
	if len(req.SlowPeriods) == 0 {
		req.SlowPeriods = []int{21, 26, 35, 50}
	}

	total := 0
	for _, fast := range req.FastPeriods {
		for _, slow := range req.SlowPeriods {
			if fast < slow {
				total++
			}
		}
	}
	if total == 0 {
		return nil, fmt.Errorf("no valid fast/slow combinations (fast must be below slow)")
	}

	best := OptimizeResult{BestReturnPct: math.Inf(-1), Combinations: total}
	done := 0

	for _, fast := range req.FastPeriods {
		for _, slow := range req.SlowPeriods {
			if fast >= slow {
				continue
			}
			if len(req.Candles) < slow+1 {
				return nil, fmt.Errorf("need at least %d candles for EMA(%d), got %d", slow+1, slow, len(req.Candles))
			}

			walk := runWalk(BacktestRequest{
				Candles:        req.Candles,
				InitialCapital: req.InitialCapital,
				EmaFast:        fast,
				EmaSlow:        slow,
			}, nil)

			if walk.TotalReturnPct > best.BestReturnPct {
				best.BestFast = fast
				best.BestSlow = slow
				best.BestReturnPct = walk.TotalReturnPct
			}

			done++
			if progress != nil {
				progress(done * 100 / total)
			}
		}
	}

	out, err := json.Marshal(best)
	if err != nil {
		return nil, fmt.Errorf("failed to encode optimize result: %w", err)
	}
	return out, nil
}

func normalize(req *BacktestRequest) {
	if req.InitialCapital <= 0 {
		req.InitialCapital = 10000
	}
	if req.EmaFast <= 0 {
		req.EmaFast = 12
	}
	if req.EmaSlow <= 0 {
		req.EmaSlow = 26
	}
	if req.EmaFast >= req.EmaSlow {
		req.EmaFast, req.EmaSlow = req.EmaSlow, req.EmaFast
	}
}

func runWalk(req BacktestRequest, progress core.ProgressFunc) *BacktestResult {
	candles := req.Candles
	fast := ema(candles, req.EmaFast)
	slow := ema(candles, req.EmaSlow)

	result := &BacktestResult{
		FinalEquity: req.InitialCapital,
		Trades:      []Trade{},
	}

	equity := req.InitialCapital
	peak := equity
	var entryIdx = -1

	for i := 1; i < len(candles); i++ {
		crossedUp := fast[i-1] <= slow[i-1] && fast[i] > slow[i]
		crossedDown := fast[i-1] >= slow[i-1] && fast[i] < slow[i]

		if entryIdx < 0 && crossedUp && i >= req.EmaSlow {
			entryIdx = i
		} else if entryIdx >= 0 && crossedDown {
			equity = closeTrade(result, candles, entryIdx, i, equity)
			entryIdx = -1
		}

		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			drawdown := (peak - equity) / peak * 100
			if drawdown > result.MaxDrawdownPct {
				result.MaxDrawdownPct = drawdown
			}
		}

		if progress != nil {
			progress(i * 100 / (len(candles) - 1))
		}
	}

	// Close any open position on the last bar.
	if entryIdx >= 0 {
		equity = closeTrade(result, candles, entryIdx, len(candles)-1, equity)
	}

	result.FinalEquity = equity
	result.TotalReturnPct = (equity - req.InitialCapital) / req.InitialCapital * 100
	result.TradeCount = len(result.Trades)

	wins := 0
	for _, t := range result.Trades {
		if t.ReturnPct > 0 {
			wins++
		}
	}
	if result.TradeCount > 0 {
		result.WinRatePct = float64(wins) / float64(result.TradeCount) * 100
	}

	return result
}

func closeTrade(result *BacktestResult, candles []Candle, entryIdx, exitIdx int, equity float64) float64 {
	entry := candles[entryIdx].Close
	exit := candles[exitIdx].Close
	returnPct := (exit - entry) / entry * 100

	result.Trades = append(result.Trades, Trade{
		EntryTime:  candles[entryIdx].Time,
		ExitTime:   candles[exitIdx].Time,
		EntryPrice: entry,
		ExitPrice:  exit,
		ReturnPct:  returnPct,
	})

	return equity * (1 + returnPct/100)
}

// ema computes an exponential moving average seeded with the first
// close, matching the pandas ewm(adjust=False) behaviour the engine's
// reference data was produced with.
func ema(candles []Candle, period int) []float64 {
	out := make([]float64, len(candles))
	if len(candles) == 0 {
		return out
	}

	alpha := 2.0 / (float64(period) + 1)
	out[0] = candles[0].Close
	for i := 1; i < len(candles); i++ {
		out[i] = alpha*candles[i].Close + (1-alpha)*out[i-1]
	}
	return out
}

// Register wires the built-in job types into the registry.
func Register(registry *core.ProcessorRegistry) {
	registry.RegisterFunc("backtest", Backtest)
	registry.RegisterFunc("optimize", Optimize)
	registry.RegisterFunc("echo", Echo)
}
