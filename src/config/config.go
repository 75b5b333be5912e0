package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type AppConfig struct {
	Port               string
	DatabasePath       string
	LogLevel           string
	MaxUploadSizeBytes int64

	// Accounting method used when selecting lots for a disposal:
	// "FIFO" (oldest first) or "HIFO" (highest cost first).
	AccountingMethod string

	// AnnualLossCap is the statutory cap on net capital losses deductible
	// against ordinary income in a single tax year.
	AnnualLossCap decimal.Decimal

	// WashSaleWindowDays is the half-width of the replacement-purchase
	// window scanned around a loss disposal.
	WashSaleWindowDays int

	// CrossWalletWashSales controls whether replacement purchases on other
	// wallets of the same filer count toward wash-sale disallowance.
	CrossWalletWashSales bool
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	method := strings.ToUpper(getEnv("ACCOUNTING_METHOD", "FIFO"))
	if method != "FIFO" && method != "HIFO" {
		log.Printf("WARNING: Invalid ACCOUNTING_METHOD '%s'. Using default FIFO.", method)
		method = "FIFO"
	}

	annualCapStr := getEnv("ANNUAL_LOSS_CAP", "3000.00")
	annualCap, err := decimal.NewFromString(annualCapStr)
	if err != nil || annualCap.IsNegative() {
		log.Printf("WARNING: Invalid ANNUAL_LOSS_CAP '%s'. Using default 3000.00. Error: %v", annualCapStr, err)
		annualCap = decimal.RequireFromString("3000.00")
	}

	windowDays := getEnvAsInt("WASH_SALE_WINDOW_DAYS", 30)
	if windowDays < 0 {
		log.Printf("WARNING: Negative WASH_SALE_WINDOW_DAYS %d. Using default 30.", windowDays)
		windowDays = 30
	}

	maxUploadSizeBytesStr := getEnv("MAX_UPLOAD_SIZE_BYTES", "10485760")
	maxUploadSizeBytes, err := strconv.ParseInt(maxUploadSizeBytesStr, 10, 64)
	if err != nil {
		log.Printf("WARNING: Invalid MAX_UPLOAD_SIZE_BYTES format '%s'. Using default 10MB. Error: %v", maxUploadSizeBytesStr, err)
		maxUploadSizeBytes = 10 * 1024 * 1024
	}

	Cfg = &AppConfig{
		Port:                 getEnv("PORT", "8080"),
		DatabasePath:         getEnv("DATABASE_PATH", "./cryptotracker.db"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		MaxUploadSizeBytes:   maxUploadSizeBytes,
		AccountingMethod:     method,
		AnnualLossCap:        annualCap,
		WashSaleWindowDays:   windowDays,
		CrossWalletWashSales: getEnvAsBool("CROSS_WALLET_WASH_SALES", true),
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, Method=%s, AnnualCap=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.AccountingMethod, Cfg.AnnualLossCap.String())
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Integer value for %s not set or empty, using default: %d", key, fallback)
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid boolean value for %s ('%s'), using default: %t", key, valueStr, fallback)
	return fallback
}
