// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/presale-transfer/internal/blockchain/solbc/programs/computebudget"
	"github.com/rovshanmuradov/presale-transfer/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/presale-transfer/internal/pricing"
	"github.com/rovshanmuradov/presale-transfer/internal/wallet"
)

// ErrConfiguration - отсутствующий или некорректный параметр конфигурации.
// Фатальная ошибка, до любого сетевого обращения.
var ErrConfiguration = errors.New("configuration error")

const EnvPrefix = "PRESALE"

type PhaseConfig struct {
	// UpperBound == 0 у последней фазы означает "без границы"
	UpperBound float64 `mapstructure:"upper_bound"`
	Price      float64 `mapstructure:"price"`
}

type Config struct {
	ListenAddr string   `mapstructure:"listen_addr"`
	RPCList    []string `mapstructure:"rpc_list"`
	PrivateKey string   `mapstructure:"private_key"`
	TokenMint  string   `mapstructure:"token_mint"`

	MinPaidAmount      float64                 `mapstructure:"min_paid_amount"`
	MaxPaidAmount      float64                 `mapstructure:"max_paid_amount"`
	TotalSupply        float64                 `mapstructure:"total_supply"`
	TokenDecimalsScale float64                 `mapstructure:"token_decimals_scale"`
	Phases             []PhaseConfig           `mapstructure:"phases"`
	FeeTiers           []computebudget.FeeTier `mapstructure:"fee_tiers"`
	TierDelay          time.Duration           `mapstructure:"tier_delay"`

	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	ProbeMode    string        `mapstructure:"probe_mode"`
	// RPCTimeout ограничивает каждый вызов узла вне проверки живости
	RPCTimeout time.Duration `mapstructure:"rpc_timeout"`

	ConfirmTimeout      time.Duration `mapstructure:"confirm_timeout"`
	ConfirmRetries      int           `mapstructure:"confirm_retries"`
	ConfirmDelay        time.Duration `mapstructure:"confirm_delay"`
	ConfirmPollInterval time.Duration `mapstructure:"confirm_poll_interval"`

	RewardRate    float64       `mapstructure:"reward_rate"`
	RewardTimeout time.Duration `mapstructure:"reward_timeout"`

	StorageDriver string `mapstructure:"storage_driver"`
	PostgresURL   string `mapstructure:"postgres_url"`
	SQLitePath    string `mapstructure:"sqlite_path"`

	LogFile         string        `mapstructure:"log_file"`
	DebugLogging    bool          `mapstructure:"debug_logging"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

const (
	DefaultListenAddr          = ":8080"
	DefaultTierDelay           = 5 * time.Second
	DefaultRPCTimeout          = rpc.DefaultCallTimeout
	DefaultConfirmTimeout      = 60 * time.Second
	DefaultConfirmRetries      = 10
	DefaultConfirmDelay        = 2 * time.Second
	DefaultConfirmPollInterval = time.Second
	DefaultRewardTimeout       = 10 * time.Second
	DefaultShutdownTimeout     = 15 * time.Second
	DefaultDisplayDivisor      = pricing.DefaultDisplayDivisor

	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// ключи без значений по умолчанию, которые все равно должны читаться из env
var envOnlyKeys = []string{"private_key", "token_mint", "postgres_url"}

// LoadConfig читает конфигурацию из файла (необязательного) и переменных
// окружения с префиксом PRESALE_. Пустой path - только окружение.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	defaults := map[string]interface{}{
		"listen_addr":           DefaultListenAddr,
		"min_paid_amount":       0.0,
		"max_paid_amount":       0.0,
		"total_supply":          pricing.DefaultTotalSupply,
		"token_decimals_scale":  pricing.DefaultScaleFactor,
		"tier_delay":            DefaultTierDelay,
		"probe_timeout":         rpc.DefaultProbeTimeout,
		"probe_mode":            string(rpc.ProbeSequential),
		"rpc_timeout":           DefaultRPCTimeout,
		"confirm_timeout":       DefaultConfirmTimeout,
		"confirm_retries":       DefaultConfirmRetries,
		"confirm_delay":         DefaultConfirmDelay,
		"confirm_poll_interval": DefaultConfirmPollInterval,
		"reward_rate":           pricing.DefaultRewardRate,
		"reward_timeout":        DefaultRewardTimeout,
		"storage_driver":        StorageSQLite,
		"sqlite_path":           "presale.db",
		"log_file":              "transferd.log",
		"debug_logging":         false,
		"shutdown_timeout":      DefaultShutdownTimeout,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envOnlyKeys {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: read config %s: %v", ErrConfiguration, path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	loadEnvironmentVariables(v, &cfg)

	if len(cfg.Phases) == 0 {
		cfg.Phases = DefaultPhases()
	}
	if len(cfg.FeeTiers) == 0 {
		cfg.FeeTiers = computebudget.DefaultLadder()
	}

	return &cfg, validateConfig(&cfg)
}

// DefaultPhases - (10M, 1500) (15M, 6000) (без границы, 12000)
func DefaultPhases() []PhaseConfig {
	return []PhaseConfig{
		{UpperBound: pricing.DefaultPhase1End, Price: 1500},
		{UpperBound: pricing.DefaultPhase2End, Price: 6000},
		{Price: 12000},
	}
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return fmt.Errorf("%w: rpc_list is empty", ErrConfiguration)
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return fmt.Errorf("%w: invalid RPC URL %q: %v", ErrConfiguration, rpcURL, err)
		}
	}
	if cfg.PrivateKey == "" {
		return fmt.Errorf("%w: missing private_key", ErrConfiguration)
	}
	if _, err := wallet.ParsePrivateKey(cfg.PrivateKey); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if _, err := cfg.Mint(); err != nil {
		return err
	}
	if _, err := cfg.Calculator(); err != nil {
		return err
	}
	if err := computebudget.ValidateLadder(cfg.FeeTiers); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := validateNumericParams(cfg); err != nil {
		return err
	}

	switch rpc.ProbeMode(cfg.ProbeMode) {
	case rpc.ProbeSequential, rpc.ProbeRace:
	default:
		return fmt.Errorf("%w: invalid probe_mode %q", ErrConfiguration, cfg.ProbeMode)
	}

	switch cfg.StorageDriver {
	case StorageMemory:
	case StorageSQLite:
		if cfg.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite_path is empty", ErrConfiguration)
		}
	case StoragePostgres:
		if cfg.PostgresURL == "" {
			return fmt.Errorf("%w: postgres_url is empty", ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown storage_driver %q", ErrConfiguration, cfg.StorageDriver)
	}
	return nil
}

func validateNumericParams(cfg *Config) error {
	if cfg.MinPaidAmount < 0 || cfg.MaxPaidAmount < 0 {
		return fmt.Errorf("%w: paid amount bounds must not be negative", ErrConfiguration)
	}
	if cfg.MaxPaidAmount > 0 && cfg.MinPaidAmount > cfg.MaxPaidAmount {
		return fmt.Errorf("%w: min_paid_amount exceeds max_paid_amount", ErrConfiguration)
	}
	if cfg.TierDelay < 0 {
		return fmt.Errorf("%w: invalid tier_delay", ErrConfiguration)
	}
	if cfg.ProbeTimeout <= 0 {
		return fmt.Errorf("%w: invalid probe_timeout", ErrConfiguration)
	}
	if cfg.RPCTimeout <= 0 {
		return fmt.Errorf("%w: invalid rpc_timeout", ErrConfiguration)
	}
	if cfg.ConfirmTimeout <= 0 || cfg.ConfirmPollInterval <= 0 {
		return fmt.Errorf("%w: invalid confirm_timeout or confirm_poll_interval", ErrConfiguration)
	}
	if cfg.ConfirmRetries < 0 || cfg.ConfirmDelay < 0 {
		return fmt.Errorf("%w: invalid confirm_retries or confirm_delay", ErrConfiguration)
	}
	if cfg.RewardRate < 0 {
		return fmt.Errorf("%w: invalid reward_rate", ErrConfiguration)
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) || parsed.Host == "" {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) {
	envRPCList := v.GetString("RPC_LIST")
	if envRPCList == "" {
		return
	}
	var cleanRPCs []string
	for _, rpcURL := range strings.Split(envRPCList, ",") {
		clean := strings.TrimSpace(rpcURL)
		if clean != "" {
			cleanRPCs = append(cleanRPCs, clean)
		}
	}
	if len(cleanRPCs) > 0 {
		cfg.RPCList = cleanRPCs
	}
}

// Mint возвращает адрес токена продажи
func (c *Config) Mint() (solana.PublicKey, error) {
	if c.TokenMint == "" {
		return solana.PublicKey{}, fmt.Errorf("%w: missing token_mint", ErrConfiguration)
	}
	mint, err := solana.PublicKeyFromBase58(c.TokenMint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: invalid token_mint: %v", ErrConfiguration, err)
	}
	return mint, nil
}

// PhaseTable строит таблицу фаз. Последняя фаза без границы.
func (c *Config) PhaseTable() (*pricing.PhaseTable, error) {
	phases := make([]pricing.Phase, len(c.Phases))
	for i, p := range c.Phases {
		phases[i] = pricing.Phase{Price: decimal.NewFromFloat(p.Price)}
		if i == len(c.Phases)-1 && p.UpperBound == 0 {
			phases[i].Unbounded = true
			continue
		}
		phases[i].UpperBound = decimal.NewFromFloat(p.UpperBound)
	}
	table, err := pricing.NewPhaseTable(phases)
	if err != nil {
		return nil, fmt.Errorf("%w: phases: %v", ErrConfiguration, err)
	}
	return table, nil
}

// Calculator строит калькулятор цены и вознаграждения
func (c *Config) Calculator() (*pricing.Calculator, error) {
	table, err := c.PhaseTable()
	if err != nil {
		return nil, err
	}
	if c.TotalSupply <= 0 {
		return nil, fmt.Errorf("%w: total_supply must be positive", ErrConfiguration)
	}
	if c.TokenDecimalsScale <= 0 {
		return nil, fmt.Errorf("%w: token_decimals_scale must be positive", ErrConfiguration)
	}
	return pricing.NewCalculator(
		table,
		decimal.NewFromFloat(c.TotalSupply),
		decimal.NewFromFloat(c.TokenDecimalsScale),
		decimal.NewFromInt(DefaultDisplayDivisor),
		decimal.NewFromFloat(c.RewardRate),
	), nil
}

// PaidAmountBounds возвращает границы суммы оплаты. Нулевая граница не проверяется.
func (c *Config) PaidAmountBounds() (min, max decimal.Decimal) {
	return decimal.NewFromFloat(c.MinPaidAmount), decimal.NewFromFloat(c.MaxPaidAmount)
}
