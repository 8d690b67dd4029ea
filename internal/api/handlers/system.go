package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"backtest-api/internal/core"
)

type AssetInfo struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

// availableAssets is the catalogue of symbols the backtest engine can
// price. Adding an asset is a code change.
var availableAssets = map[string]AssetInfo{
	"BTC/USDT":  {Symbol: "BTCUSDT", Name: "Bitcoin", Type: "crypto"},
	"ETH/USDT":  {Symbol: "ETHUSDT", Name: "Ethereum", Type: "crypto"},
	"SOL/USDT":  {Symbol: "SOLUSDT", Name: "Solana", Type: "crypto"},
	"ADA/USDT":  {Symbol: "ADAUSDT", Name: "Cardano", Type: "crypto"},
	"DOGE/USDT": {Symbol: "DOGEUSDT", Name: "Dogecoin", Type: "crypto"},
	"AAPL":      {Symbol: "AAPL", Name: "Apple", Type: "stock"},
	"MSFT":      {Symbol: "MSFT", Name: "Microsoft", Type: "stock"},
	"GOOGL":     {Symbol: "GOOGL", Name: "Alphabet", Type: "stock"},
	"NVDA":      {Symbol: "NVDA", Name: "NVIDIA", Type: "stock"},
	"TSLA":      {Symbol: "TSLA", Name: "Tesla", Type: "stock"},
	"SPY":       {Symbol: "SPY", Name: "S&P 500 ETF", Type: "etf"},
	"QQQ":       {Symbol: "QQQ", Name: "Nasdaq 100 ETF", Type: "etf"},
	"GLD":       {Symbol: "GLD", Name: "Gold ETF (SPDR)", Type: "commodity"},
}

type SystemHandler struct {
	metrics *core.MetricsCollector
}

func NewSystemHandler(metrics *core.MetricsCollector) *SystemHandler {
	return &SystemHandler{metrics: metrics}
}

func (h *SystemHandler) HealthCheck(c *gin.Context) {
	snap := h.metrics.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":  snap.Health,
		"message": "backtest API is running",
	})
}

func (h *SystemHandler) GetAssets(c *gin.Context) {
	symbols := make([]string, 0, len(availableAssets))
	for symbol := range availableAssets {
		symbols = append(symbols, symbol)
	}

	c.JSON(http.StatusOK, gin.H{
		"assets":     symbols,
		"asset_info": availableAssets,
	})
}

func (h *SystemHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/health", h.HealthCheck)
	r.GET("/assets", h.GetAssets)
}
