package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the backtest service.
type Config struct {
	Port string

	// Database
	DBPath string

	// Data gathering
	BinanceBaseURL string
	Symbols        []string
	Interval       string

	// Run defaults
	InitialCapital  float64
	MaxPositionSize float64
	Slippage        float64 // decimal (e.g. 0.001 = 10 bps)
	Commission      float64 // decimal (e.g. 0.0004 = 4 bps)
	RiskFreeRate    float64 // annual

	// Strategy definitions
	StrategyConfigPath string

	// Export
	DataDir       string
	ExportParquet bool

	// Auth
	JWTSecret string
	APIKey    string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:               getEnv("PORT", "8080"),
		DBPath:             getEnv("DB_PATH", "./data/backtest.db"),
		BinanceBaseURL:     getEnv("BINANCE_BASE_URL", "https://api.binance.com"),
		Symbols:            splitAndTrim(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT")),
		Interval:           getEnv("INTERVAL", "1d"),
		InitialCapital:     getEnvFloat("INITIAL_CAPITAL", 10000.0),
		MaxPositionSize:    getEnvFloat("MAX_POSITION_SIZE", 0.1),
		Slippage:           getEnvFloat("SLIPPAGE", 0.001),
		Commission:         getEnvFloat("COMMISSION", 0.0004),
		RiskFreeRate:       getEnvFloat("RISK_FREE_RATE", 0.02),
		StrategyConfigPath: getEnv("STRATEGY_CONFIG", "./configs/strategies.yaml"),
		DataDir:            getEnv("DATA_DIR", "./data"),
		ExportParquet:      getEnv("EXPORT_PARQUET", "false") == "true",
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret"),
		APIKey:             getEnv("API_KEY", "dev-api-key"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
