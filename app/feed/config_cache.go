package feed

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const (
	GlobalConfigName = "_global"
	AllConfigName    = "_all"

	DefaultRefreshInterval = 3600
	DefaultCacheTTL        = 300
	DefaultMaxItems        = 100
	DefaultOldest          = 5040000
	DefaultTimeout         = 30
)

var configExtensions = []string{".yml", ".yaml", ".toml"}

// ConfigCache loads one node definition per file from the feeds directory.
// Files are read in filename order, which is the declaration order of the
// feed graph.
type ConfigCache struct {
	feedsDir string
	cache    map[string]*Config
	order    []string
	global   *Config
	all      *Config
	mu       sync.RWMutex
}

func NewConfigCache(feedsDir string) *ConfigCache {
	return &ConfigCache{
		feedsDir: feedsDir,
		cache:    make(map[string]*Config),
		global:   defaultScopeConfig(GlobalConfigName),
		all:      defaultScopeConfig(AllConfigName),
	}
}

func (cc *ConfigCache) Run() error {
	if _, err := os.Stat(cc.feedsDir); os.IsNotExist(err) {
		return nil
	}

	var files []string
	for _, ext := range configExtensions {
		matches, err := filepath.Glob(filepath.Join(cc.feedsDir, "*"+ext))
		if err != nil {
			return fmt.Errorf("failed to find config files: %w", err)
		}
		files = append(files, matches...)
	}
	slices.SortFunc(files, func(a, b string) int {
		return strings.Compare(filepath.Base(a), filepath.Base(b))
	})

	seen := make(map[string]string, len(files))
	for _, file := range files {
		fileName := filepath.Base(file)
		feedName := strings.TrimSuffix(fileName, filepath.Ext(fileName))

		if previous, ok := seen[feedName]; ok {
			return fmt.Errorf("feed %s is defined by both %s and %s", feedName, previous, fileName)
		}
		seen[feedName] = fileName

		config, err := cc.LoadConfig(feedName)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Configuration loaded", "feed", feedName, "enabled", config.Settings.Enabled, "refresh_interval", config.Settings.RefreshInterval)
	}

	return nil
}

func (cc *ConfigCache) LoadConfig(feedName string) (*Config, error) {
	configFile, err := cc.getConfigFilePath(feedName)
	if err != nil {
		return nil, err
	}

	feedConfig, err := cc.parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	feedConfig.Name = feedName

	if err := cc.validateConfig(feedConfig); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	switch feedName {
	case GlobalConfigName:
		cc.global = feedConfig
	case AllConfigName:
		cc.all = feedConfig
	default:
		if _, ok := cc.cache[feedName]; !ok {
			cc.order = append(cc.order, feedName)
		}
		cc.cache[feedName] = feedConfig
	}

	return feedConfig, nil
}

func (cc *ConfigCache) GetConfig(feedName string) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	feedConfig, ok := cc.cache[feedName]
	if !ok {
		return nil, fmt.Errorf("feed config with name '%s' not found", feedName)
	}
	return feedConfig, nil
}

// GetConfigs returns node configs in declaration order.
func (cc *ConfigCache) GetConfigs() []*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	configs := make([]*Config, 0, len(cc.order))
	for _, name := range cc.order {
		configs = append(configs, cc.cache[name])
	}
	return configs
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

func (cc *ConfigCache) Global() *Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.global
}

func (cc *ConfigCache) All() *Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.all
}

func (cc *ConfigCache) parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var feedConfig Config
	switch filepath.Ext(configFile) {
	case ".toml":
		if err := toml.Unmarshal(data, &feedConfig); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &feedConfig); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	setDefaults(&feedConfig.Settings)

	return &feedConfig, nil
}

func setDefaults(settings *ConfigSettings) {
	if settings.RefreshInterval == 0 {
		settings.RefreshInterval = DefaultRefreshInterval
	}
	if settings.CacheTTL == 0 {
		settings.CacheTTL = DefaultCacheTTL
	}
	if settings.MaxItems == nil {
		maxItems := DefaultMaxItems
		settings.MaxItems = &maxItems
	}
	if settings.Oldest == 0 {
		settings.Oldest = DefaultOldest
	}
	if settings.Timeout == 0 {
		settings.Timeout = DefaultTimeout
	}
	if settings.ApplyTags == nil {
		applyTags := true
		settings.ApplyTags = &applyTags
	}
}

func defaultScopeConfig(name string) *Config {
	config := &Config{Name: name}
	setDefaults(&config.Settings)
	return config
}

// IsComposite reports whether the config describes a composite node.
func (c *Config) IsComposite() bool {
	return len(c.Feeds) > 0 || len(c.TagAllowlist) > 0 || len(c.TagBlocklist) > 0 || c.Type == "composite"
}

func (cc *ConfigCache) validateConfig(feedConfig *Config) error {
	if feedConfig == nil {
		return fmt.Errorf("feedConfig is nil")
	}

	if feedConfig.Name == "" {
		return fmt.Errorf("feed name is required")
	}

	isScope := feedConfig.Name == GlobalConfigName || feedConfig.Name == AllConfigName

	if !isScope && !feedConfig.IsComposite() {
		switch SourceKind(feedConfig.Type) {
		case "", SourceKindRSS:
			if feedConfig.URL == "" {
				return fmt.Errorf("feed URL is required")
			}
		case SourceKindMastodon:
			if feedConfig.Mastodon.Instance == "" && feedConfig.URL == "" {
				return fmt.Errorf("mastodon instance is required")
			}
		default:
			return fmt.Errorf("unknown feed type: %s", feedConfig.Type)
		}
	}

	nonNegativeFields := map[string]int{
		"refresh interval": feedConfig.Settings.RefreshInterval,
		"cache ttl":        feedConfig.Settings.CacheTTL,
		"max items":        lo.FromPtr(feedConfig.Settings.MaxItems),
		"oldest":           feedConfig.Settings.Oldest,
		"timeout":          feedConfig.Settings.Timeout,
	}

	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	for i, filter := range feedConfig.Filters {
		if !validFields[filter.Field] {
			return fmt.Errorf("invalid filter field at index %d: %s", i, filter.Field)
		}
		if len(filter.Includes) == 0 && len(filter.Excludes) == 0 {
			return fmt.Errorf("filter at index %d must have at least one include or exclude rule", i)
		}
	}

	return nil
}

func (cc *ConfigCache) getConfigFilePath(feedName string) (string, error) {
	for _, ext := range configExtensions {
		path := filepath.Join(cc.feedsDir, feedName+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no config file for feed %s in %s", feedName, cc.feedsDir)
}
