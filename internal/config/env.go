package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env files in order of precedence so that secrets
// (tokens, DSNs) can be supplied without editing the YAML config.
func LoadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	home, _ := os.UserHomeDir()
	homeEnv := filepath.Join(home, ".arc", ".env")
	if _, err := os.Stat(homeEnv); err == nil {
		godotenv.Load(homeEnv)
	}
}

// GetString returns the environment value for key, or defaultVal.
func GetString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// GetInt returns the environment value for key parsed as int, or defaultVal.
func GetInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// GetBool returns the environment value for key parsed as bool, or defaultVal.
func GetBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
