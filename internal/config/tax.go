package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const defaultCurrencyPrecision int32 = 2

// TaxConfig holds the store's currency and rounding conventions.
type TaxConfig struct {
	RoundingMode      string           `mapstructure:"roundingMode"`
	DefaultCurrency   string           `mapstructure:"defaultCurrency"`
	CurrencyPrecision map[string]int32 `mapstructure:"currencyPrecision"`
	// RefreshSchedule is a cron spec for the periodic catalog reload. Empty disables it.
	RefreshSchedule string `mapstructure:"refreshSchedule"`
}

func DefaultTaxConfig() TaxConfig {
	return TaxConfig{
		RoundingMode:    "half_even",
		DefaultCurrency: "SAR",
		CurrencyPrecision: map[string]int32{
			"SAR": 2,
			"AED": 2,
			"USD": 2,
			"KWD": 3,
			"BHD": 3,
			"JPY": 0,
		},
		RefreshSchedule: "@every 5m",
	}
}

// Precision returns the minor-unit precision for currency, falling back to
// the default currency and then to two decimal places.
func (c TaxConfig) Precision(currency string) int32 {
	if p, ok := c.CurrencyPrecision[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return p
	}
	if p, ok := c.CurrencyPrecision[strings.ToUpper(c.DefaultCurrency)]; ok {
		return p
	}
	return defaultCurrencyPrecision
}

// ResolveCurrency returns the upper-cased currency, or the default when blank.
func (c TaxConfig) ResolveCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return strings.ToUpper(c.DefaultCurrency)
	}
	return currency
}

type TaxConfigHolder struct {
	current atomic.Value // holds TaxConfig

	mu        sync.Mutex
	listeners []func(TaxConfig)
}

// NewStaticTaxConfigHolder wraps a fixed config. Used by tests and tools.
func NewStaticTaxConfigHolder(cfg TaxConfig) *TaxConfigHolder {
	holder := &TaxConfigHolder{}
	holder.current.Store(normalizeTaxConfig(cfg))
	return holder
}

// NewTaxConfigHolder reads tax.yml and keeps it hot-reloaded.
func NewTaxConfigHolder(log *zap.Logger) (*TaxConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("tax")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/storetax/config")
	v.AddConfigPath("/etc/storetax")
	v.AddConfigPath(".")

	return newTaxConfigHolder(v, log)
}

// NewTaxConfigHolderFromFile is NewTaxConfigHolder for an explicit path.
func NewTaxConfigHolderFromFile(path string, log *zap.Logger) (*TaxConfigHolder, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return newTaxConfigHolder(v, log)
}

func newTaxConfigHolder(v *viper.Viper, log *zap.Logger) (*TaxConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.tax")

	v.SetEnvPrefix("STORETAX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultTaxConfig()
	v.SetDefault("tax.roundingMode", defaults.RoundingMode)
	v.SetDefault("tax.defaultCurrency", defaults.DefaultCurrency)
	v.SetDefault("tax.refreshSchedule", defaults.RefreshSchedule)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
		log.Info("tax config file not found, using defaults")
	}

	cfg, err := decodeTaxConfig(v)
	if err != nil {
		return nil, err
	}

	holder := &TaxConfigHolder{}
	holder.current.Store(cfg)

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeTaxConfig(v)
			if err != nil {
				log.Warn("invalid tax config ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.publish(updated)
			log.Info("tax config reloaded",
				zap.String("file", e.Name),
				zap.String("rounding_mode", updated.RoundingMode),
				zap.String("default_currency", updated.DefaultCurrency),
			)
		})
	}

	return holder, nil
}

func (h *TaxConfigHolder) Get() TaxConfig {
	return h.current.Load().(TaxConfig)
}

// OnChange registers fn to run after every accepted reload.
func (h *TaxConfigHolder) OnChange(fn func(TaxConfig)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Replace validates cfg and swaps it in as if the file had been reloaded.
func (h *TaxConfigHolder) Replace(cfg TaxConfig) error {
	cfg = normalizeTaxConfig(cfg)
	if err := validateTaxConfig(cfg); err != nil {
		return err
	}
	h.publish(cfg)
	return nil
}

func (h *TaxConfigHolder) publish(cfg TaxConfig) {
	h.mu.Lock()
	h.current.Store(cfg)
	listeners := append([]func(TaxConfig){}, h.listeners...)
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
}

// decodeTaxConfig reads key by key so that defaults and STORETAX_TAX_*
// environment overrides fill whatever the file leaves out.
func decodeTaxConfig(v *viper.Viper) (TaxConfig, error) {
	cfg := TaxConfig{
		RoundingMode:    v.GetString("tax.roundingMode"),
		DefaultCurrency: v.GetString("tax.defaultCurrency"),
		RefreshSchedule: v.GetString("tax.refreshSchedule"),
	}
	if v.IsSet("tax.currencyPrecision") {
		if err := v.UnmarshalKey("tax.currencyPrecision", &cfg.CurrencyPrecision); err != nil {
			return TaxConfig{}, fmt.Errorf("tax.currencyPrecision: %w", err)
		}
	}
	if len(cfg.CurrencyPrecision) == 0 {
		cfg.CurrencyPrecision = DefaultTaxConfig().CurrencyPrecision
	}
	cfg = normalizeTaxConfig(cfg)
	if err := validateTaxConfig(cfg); err != nil {
		return TaxConfig{}, err
	}
	return cfg, nil
}

// normalizeTaxConfig upper-cases currency keys; viper lower-cases map keys.
func normalizeTaxConfig(cfg TaxConfig) TaxConfig {
	cfg.RoundingMode = strings.ToLower(strings.TrimSpace(cfg.RoundingMode))
	cfg.DefaultCurrency = strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	cfg.RefreshSchedule = strings.TrimSpace(cfg.RefreshSchedule)

	precision := make(map[string]int32, len(cfg.CurrencyPrecision))
	for code, p := range cfg.CurrencyPrecision {
		precision[strings.ToUpper(strings.TrimSpace(code))] = p
	}
	cfg.CurrencyPrecision = precision
	return cfg
}

func validateTaxConfig(cfg TaxConfig) error {
	switch cfg.RoundingMode {
	case "half_even", "half_up":
	default:
		return fmt.Errorf("tax.roundingMode %q is not supported", cfg.RoundingMode)
	}
	if cfg.DefaultCurrency == "" {
		return errors.New("tax.defaultCurrency cannot be empty")
	}
	for code, p := range cfg.CurrencyPrecision {
		if p < 0 || p > 8 {
			return fmt.Errorf("tax.currencyPrecision.%s must be between 0 and 8", code)
		}
	}
	if cfg.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(cfg.RefreshSchedule); err != nil {
			return fmt.Errorf("tax.refreshSchedule: %w", err)
		}
	}
	return nil
}
