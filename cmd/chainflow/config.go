package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all chainflow server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath         string `json:"db_path"`
	LogLevel       string `json:"log_level"`
	CompilerURL    string `json:"compiler_url"`
	DeployerURL    string `json:"deployer_url"`
	AuditorURL     string `json:"auditor_url"`
	ServiceToken   string `json:"service_token"`
	VaultPass      string `json:"vault_passphrase"`
	VaultSalt      string `json:"vault_salt"`
	ServiceTimeout int    `json:"service_timeout_seconds"`
	Network        string `json:"network"`
	Scheduler      bool   `json:"scheduler"`
	PanelAddr      string `json:"panel_addr"`
}

func defaultConfig() Config {
	return Config{
		DBPath:         filepath.Join(chainflowDir(), "chainflow.db"),
		LogLevel:       "info",
		ServiceTimeout: 60,
		Scheduler:      true,
	}
}

func chainflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chainflow"
	}
	return filepath.Join(home, ".chainflow")
}

func settingsPath() string {
	return filepath.Join(chainflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CHAINFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CHAINFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CHAINFLOW_COMPILER_URL"); v != "" {
		cfg.CompilerURL = v
	}
	if v := os.Getenv("CHAINFLOW_DEPLOYER_URL"); v != "" {
		cfg.DeployerURL = v
	}
	if v := os.Getenv("CHAINFLOW_AUDITOR_URL"); v != "" {
		cfg.AuditorURL = v
	}
	if v := os.Getenv("CHAINFLOW_SERVICE_TOKEN"); v != "" {
		cfg.ServiceToken = v
	}
	if v := os.Getenv("CHAINFLOW_VAULT_PASSPHRASE"); v != "" {
		cfg.VaultPass = v
	}
	if v := os.Getenv("CHAINFLOW_VAULT_SALT"); v != "" {
		cfg.VaultSalt = v
	}
	if v := os.Getenv("CHAINFLOW_SERVICE_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ServiceTimeout = n
		}
	}
	if v := os.Getenv("CHAINFLOW_NETWORK"); v != "" {
		cfg.Network = v
	}
	if v := os.Getenv("CHAINFLOW_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}
	if v := os.Getenv("CHAINFLOW_PANEL_ADDR"); v != "" {
		cfg.PanelAddr = v
	}

	return cfg
}

func (c Config) serviceTimeout() time.Duration {
	if c.ServiceTimeout <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.ServiceTimeout) * time.Second
}
