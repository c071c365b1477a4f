package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Telegram approval surface
	BotToken    string
	OwnerChatID int64

	// Wallet backend (Lightning executor)
	WalletBackendURL string
	WalletBackendKey string

	// Service directory
	DirectoryBaseURL string

	// Bridge
	BridgePort    int
	ResultTimeout time.Duration

	// Database
	DBPath string

	// Link flow
	LinkTimeout time.Duration

	// Ecash stand-in wallet
	EcashMintURL string
	EcashUnit    string
	EcashBalance int64
}

func Load() *Config {
	return &Config{
		// Telegram
		BotToken:    getEnv("BOT_TOKEN", ""),
		OwnerChatID: getEnvInt64("OWNER_CHAT_ID", 0),

		// Wallet backend
		WalletBackendURL: strings.TrimSuffix(getEnv("WALLET_BACKEND_URL", "http://127.0.0.1:5000"), "/"),
		WalletBackendKey: getEnv("WALLET_BACKEND_KEY", ""),

		// Directory
		DirectoryBaseURL: strings.TrimSuffix(getEnv("DIRECTORY_BASE_URL", ""), "/"),

		// Bridge
		BridgePort:    getEnvInt("BRIDGE_PORT", 8090),
		ResultTimeout: getEnvDuration("RESULT_TIMEOUT_SECONDS", 120*time.Second),

		// Database
		DBPath: getEnv("DB_PATH", "./walletgate.db"),

		// Link flow
		LinkTimeout: getEnvDuration("LINK_TIMEOUT_SECONDS", 10*time.Second),

		// Ecash
		EcashMintURL: getEnv("ECASH_MINT_URL", ""),
		EcashUnit:    getEnv("ECASH_UNIT", "sat"),
		EcashBalance: getEnvInt64("ECASH_BALANCE", 0),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
