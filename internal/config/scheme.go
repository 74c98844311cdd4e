package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// SchemeSegment is one positional component of the default numbering scheme
// provisioned for new tenants.
type SchemeSegment struct {
	Position    int    `mapstructure:"position"`
	Length      int    `mapstructure:"length"`
	Description string `mapstructure:"description"`
	Handler     string `mapstructure:"handler"`
	HandlerArg  string `mapstructure:"handlerArg"`
}

// SchemeConfig describes how composite account codes are assembled.
type SchemeConfig struct {
	Separator string          `mapstructure:"separator"`
	Segments  []SchemeSegment `mapstructure:"segments"`
}

func DefaultSchemeConfig() SchemeConfig {
	return SchemeConfig{
		Separator: "-",
		Segments: []SchemeSegment{
			{Position: 1, Length: 2, Description: "Company", Handler: "tenant_id"},
			{Position: 2, Length: 2, Description: "Division", Handler: "fixed", HandlerArg: "00"},
			{Position: 3, Length: 4, Description: "Natural Account"},
		},
	}
}

// SchemeHolder exposes the numbering scheme with hot reload.
type SchemeHolder struct {
	current atomic.Value // holds SchemeConfig
}

func NewSchemeHolder() (*SchemeHolder, error) {
	v := viper.New()

	v.SetConfigName("scheme")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/ledgercore/config") // Volume-mounted config
	v.AddConfigPath("/etc/ledgercore")            // System config
	v.AddConfigPath(".")                          // Current directory (dev mode)

	v.SetEnvPrefix("LEDGERCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultSchemeConfig()
		v.SetDefault("scheme.separator", defaults.Separator)
		v.SetDefault("scheme.segments", defaults.Segments)
	}

	var cfg SchemeConfig
	if err := v.UnmarshalKey("scheme", &cfg); err != nil {
		return nil, err
	}
	if cfg.Separator == "" && len(cfg.Segments) == 0 {
		cfg = DefaultSchemeConfig()
	}
	if err := validateSchemeConfig(cfg); err != nil {
		return nil, err
	}

	holder := &SchemeHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated SchemeConfig
		if err := v.UnmarshalKey("scheme", &updated); err != nil {
			log.Printf("[scheme-config] reload failed: %v", err)
			return
		}
		if err := validateSchemeConfig(updated); err != nil {
			log.Printf("[scheme-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[scheme-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *SchemeHolder) Get() SchemeConfig {
	return h.current.Load().(SchemeConfig)
}

func validateSchemeConfig(cfg SchemeConfig) error {
	if cfg.Separator == "" {
		return errors.New("scheme.separator cannot be empty")
	}
	if len(cfg.Segments) == 0 {
		return errors.New("scheme.segments cannot be empty")
	}
	for i, seg := range cfg.Segments {
		if seg.Position != i+1 {
			return fmt.Errorf("scheme.segments positions must be contiguous from 1, got %d at index %d", seg.Position, i)
		}
		if seg.Length < 1 {
			return fmt.Errorf("scheme.segments[%d].length must be >= 1", i)
		}
	}
	return nil
}
