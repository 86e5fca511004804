package config

import (
	"fmt"
	"os"
	"strings"
)

// loadSecrets resolves sensitive values from environment variables or
// mounted secret files, so they never need to live in config.yaml.
func loadSecrets(config *Config) error {
	if valkeyPassword := os.Getenv("VALKEY_PASSWORD"); valkeyPassword != "" {
		config.Cache.Password = valkeyPassword
	} else if passwordFile := os.Getenv("VALKEY_PASSWORD_FILE"); passwordFile != "" {
		password, err := os.ReadFile(passwordFile)
		if err != nil {
			return fmt.Errorf("failed to read Valkey password file: %w", err)
		}
		config.Cache.Password = strings.TrimSpace(string(password))
	}

	if secretFile := os.Getenv("JWT_SECRET_FILE"); secretFile != "" && config.Auth.JWT.Secret == "" {
		secret, err := os.ReadFile(secretFile)
		if err != nil {
			return fmt.Errorf("failed to read JWT secret file: %w", err)
		}
		config.Auth.JWT.Secret = strings.TrimSpace(string(secret))
	}

	if adminPassword := os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"); adminPassword != "" {
		config.Auth.Bootstrap.AdminPassword = adminPassword
	} else if passwordFile := os.Getenv("BOOTSTRAP_ADMIN_PASSWORD_FILE"); passwordFile != "" {
		password, err := os.ReadFile(passwordFile)
		if err != nil {
			return fmt.Errorf("failed to read bootstrap admin password file: %w", err)
		}
		config.Auth.Bootstrap.AdminPassword = strings.TrimSpace(string(password))
	}

	return nil
}
