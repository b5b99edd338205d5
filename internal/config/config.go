package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings keeps all configuration options.
// Every key can be given as lower_case or UPPER_CASE env var.
type Settings struct {
	AccountsFile    string
	PrivateKeysFile string
	ProxiesFile     string
	UseProxy        bool

	APIBaseURL       string
	AppOrigin        string
	SignInDomain     string
	AuthBaseURL      string
	PrivyAppID       string
	WalletClientType string
	ConnectorType    string
	ChainID          int

	HTTPTimeout  time.Duration
	MaxRetries   int
	BaseDelay    time.Duration
	Stagger      time.Duration
	PollInterval time.Duration
	RefreshDelay time.Duration
	MaxWorkers   int

	LogLevel  string
	LogFormat string
}

var defaults = map[string]any{
	"accounts_file":      "tokens.txt",
	"private_keys_file":  "private_keys.txt",
	"proxies_file":       "proxies.txt",
	"use_proxy":          false,
	"api_base_url":       "https://api.app.wardenprotocol.org",
	"app_origin":         "https://app.wardenprotocol.org",
	"signin_domain":      "app.wardenprotocol.org",
	"auth_base_url":      "https://auth.privy.io",
	"privy_app_id":       "cm7f00k5c02tibel0m4o9tdy1",
	"wallet_client_type": "okx_wallet",
	"connector_type":     "injected",
	"chain_id":           56,
	"http_timeout_ms":    30000,
	"max_retries":        5,
	"base_delay_ms":      3000,
	"stagger_ms":         500,
	"poll_interval_ms":   100,
	"refresh_delay_ms":   1000,
	"max_workers":        0,
	"log_level":          "info",
	"log_format":         "text",
}

// New returns a viper instance with defaults set and env aliases bound.
// Callers may bind flags on it before calling FromViper.
func New() *viper.Viper {
	v := viper.New()
	for k, def := range defaults {
		v.SetDefault(k, def)
		_ = v.BindEnv(k, k, strings.ToUpper(k))
	}
	return v
}

// Load reads settings from environment supporting both UPPER_CASE and lower_case keys.
func Load() Settings {
	return FromViper(New())
}

func FromViper(v *viper.Viper) Settings {
	ms := func(key string) time.Duration {
		n := v.GetInt(key)
		if n < 0 {
			n = 0
		}
		return time.Duration(n) * time.Millisecond
	}
	st := Settings{}
	st.AccountsFile = v.GetString("accounts_file")
	st.PrivateKeysFile = v.GetString("private_keys_file")
	st.ProxiesFile = v.GetString("proxies_file")
	st.UseProxy = v.GetBool("use_proxy")

	st.APIBaseURL = strings.TrimRight(v.GetString("api_base_url"), "/")
	st.AppOrigin = strings.TrimRight(v.GetString("app_origin"), "/")
	st.SignInDomain = v.GetString("signin_domain")
	st.AuthBaseURL = strings.TrimRight(v.GetString("auth_base_url"), "/")
	st.PrivyAppID = v.GetString("privy_app_id")
	st.WalletClientType = v.GetString("wallet_client_type")
	st.ConnectorType = v.GetString("connector_type")
	st.ChainID = v.GetInt("chain_id")

	st.HTTPTimeout = ms("http_timeout_ms")
	st.MaxRetries = v.GetInt("max_retries")
	st.BaseDelay = ms("base_delay_ms")
	st.Stagger = ms("stagger_ms")
	st.PollInterval = ms("poll_interval_ms")
	st.RefreshDelay = ms("refresh_delay_ms")
	st.MaxWorkers = v.GetInt("max_workers")
	st.LogLevel = strings.ToLower(v.GetString("log_level"))
	st.LogFormat = strings.ToLower(v.GetString("log_format"))

	if st.MaxRetries < 1 {
		st.MaxRetries = 1
	}
	if st.HTTPTimeout == 0 {
		st.HTTPTimeout = 30 * time.Second
	}
	if st.PollInterval == 0 {
		st.PollInterval = 100 * time.Millisecond
	}
	if st.MaxWorkers < 0 {
		st.MaxWorkers = 0
	}
	return st
}
