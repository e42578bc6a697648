package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"sentinel-monitor/internal/domain"
	"sentinel-monitor/internal/logging"
	"sentinel-monitor/internal/netprofile"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Networks  NetworksConfig  `mapstructure:"networks"`
	Checker   CheckerConfig   `mapstructure:"checker"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Server    ServerConfig    `mapstructure:"server"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the activity ledger.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the per-sentinel monitoring loops.
type SchedulerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// Mode selects the exclusivity policy: "multi" (default) runs all
	// active sentinels, "single" keeps one primary and deactivates the
	// previous one when a new sentinel starts.
	Mode               string `mapstructure:"mode"`
	PauseOnRecordError bool   `mapstructure:"pause_on_record_error"`
	// AdvisoryLockKey guards against two monitor processes driving the
	// same ledger. All sentinels run inside one process.
	AdvisoryLockKey int64 `mapstructure:"advisory_lock_key"`
}

// NetworksConfig carries the two static network profiles.
type NetworksConfig struct {
	Test       NetworkConfig `mapstructure:"test"`
	Production NetworkConfig `mapstructure:"production"`
}

// NetworkConfig describes one chain environment. Test networks settle in
// usdc only; usdt is production-only and must stay unset under test.
type NetworkConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	ChainID        int64         `mapstructure:"chain_id"`
	USDCAddress    string        `mapstructure:"usdc_address"`
	USDTAddress    string        `mapstructure:"usdt_address"`
	TokenDecimals  int32         `mapstructure:"token_decimals"`
	PaymentCeiling float64       `mapstructure:"payment_ceiling"`
	LowBalanceWarn float64       `mapstructure:"low_balance_warn"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	GasLimit       uint64        `mapstructure:"gas_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CheckerConfig points the protocol client at the check endpoint.
type CheckerConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// OracleConfig captures the upstream price source used by the server.
type OracleConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	// StaticPrice short-circuits the HTTP source when set, for dev runs.
	StaticPrice float64 `mapstructure:"static_price"`
}

// ServerConfig parameterises the protocol server.
type ServerConfig struct {
	ListenAddr        string  `mapstructure:"listen_addr"`
	Fee               float64 `mapstructure:"fee"`
	Recipient         string  `mapstructure:"recipient"`
	ProofMaxAgeBlocks uint64  `mapstructure:"proof_max_age_blocks"`
	// InsecureAcceptAll skips on-chain proof verification. Development
	// only; the flag name is deliberately alarming.
	InsecureAcceptAll bool `mapstructure:"insecure_accept_all"`
}

// WalletConfig holds the local custody keys.
type WalletConfig struct {
	Keys []string `mapstructure:"keys"`
}

// NotifyConfig 描述 webhook 告警投递参数。
type NotifyConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "sentinelmon")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.mode", "multi")
	v.SetDefault("scheduler.pause_on_record_error", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x53454E54))

	v.SetDefault("networks.test.rpc_url", "https://sepolia.base.org")
	v.SetDefault("networks.test.chain_id", int64(84532))
	v.SetDefault("networks.test.usdc_address", "0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	v.SetDefault("networks.test.token_decimals", 6)
	v.SetDefault("networks.test.payment_ceiling", 1.0)
	v.SetDefault("networks.test.low_balance_warn", 0.05)
	v.SetDefault("networks.test.confirm_timeout", "90s")
	v.SetDefault("networks.test.gas_limit", uint64(80_000))
	v.SetDefault("networks.test.request_timeout", "10s")

	v.SetDefault("networks.production.rpc_url", "https://mainnet.base.org")
	v.SetDefault("networks.production.chain_id", int64(8453))
	v.SetDefault("networks.production.usdc_address", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	v.SetDefault("networks.production.usdt_address", "0xfde4C96c8593536E31F229EA8f37b2ADa2699bb2")
	v.SetDefault("networks.production.token_decimals", 6)
	v.SetDefault("networks.production.payment_ceiling", 10.0)
	v.SetDefault("networks.production.low_balance_warn", 0.5)
	v.SetDefault("networks.production.confirm_timeout", "90s")
	v.SetDefault("networks.production.gas_limit", uint64(80_000))
	v.SetDefault("networks.production.request_timeout", "10s")

	v.SetDefault("checker.base_url", "http://127.0.0.1:8480")
	v.SetDefault("checker.request_timeout", "30s")
	v.SetDefault("checker.user_agent", "sentinelmon/1.0")

	v.SetDefault("oracle.request_timeout", "10s")
	v.SetDefault("oracle.user_agent", "sentinelmon/1.0")

	v.SetDefault("server.listen_addr", ":8480")
	v.SetDefault("server.fee", 0.0001)
	v.SetDefault("server.proof_max_age_blocks", uint64(1800))
	v.SetDefault("server.insecure_accept_all", false)

	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("notify.user_agent", "sentinelmon/1.0")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if mode := c.Scheduler.Mode; mode != "multi" && mode != "single" {
		return fmt.Errorf("scheduler.mode must be multi or single, got %q", mode)
	}
	if c.Networks.Test.USDTAddress != "" {
		return fmt.Errorf("networks.test.usdt_address 不允许配置: 测试网只接受 usdc")
	}
	if c.Networks.Test.PaymentCeiling <= 0 {
		return fmt.Errorf("networks.test.payment_ceiling must be greater than zero")
	}
	if c.Networks.Production.PaymentCeiling <= 0 {
		return fmt.Errorf("networks.production.payment_ceiling must be greater than zero")
	}
	if c.Server.Fee <= 0 {
		return fmt.Errorf("server.fee must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// NetworkProfiles builds the immutable per-network profiles consumed by the
// resolver. Token maps carry usdc always and usdt only when configured, which
// is what keeps the accepted-token list at one entry on test networks.
func (c *Config) NetworkProfiles() (test, production netprofile.Profile) {
	return c.Networks.Test.profile(), c.Networks.Production.profile()
}

func (n NetworkConfig) profile() netprofile.Profile {
	decimals := n.TokenDecimals
	if decimals <= 0 {
		decimals = 6
	}

	tokens := make(map[domain.TokenKind]netprofile.Token)
	if n.USDCAddress != "" {
		tokens[domain.TokenUSDC] = netprofile.Token{Address: n.USDCAddress, Decimals: decimals}
	}
	if n.USDTAddress != "" {
		tokens[domain.TokenUSDT] = netprofile.Token{Address: n.USDTAddress, Decimals: decimals}
	}

	return netprofile.Profile{
		RPCURL:         n.RPCURL,
		ChainID:        n.ChainID,
		Tokens:         tokens,
		PaymentCeiling: decimal.NewFromFloat(n.PaymentCeiling),
		LowBalanceWarn: decimal.NewFromFloat(n.LowBalanceWarn),
		ConfirmTimeout: n.ConfirmTimeout,
		GasLimit:       n.GasLimit,
		RequestTimeout: n.RequestTimeout,
	}
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
