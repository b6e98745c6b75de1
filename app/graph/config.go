package graph

import (
	"fmt"
	"time"

	"github.com/lysyi3m/feed-comb/app/feed"
)

// FromConfigs turns loaded node configs into build options. Rule compilation
// failures are reported as ValidationError.
func FromConfigs(global, all *feed.Config, configs []*feed.Config) (Options, error) {
	globalScope, err := feed.CompileScope(feed.ScopeGlobal, feed.GlobalConfigName, global.Rules, global.Filters)
	if err != nil {
		return Options{}, &ValidationError{Node: feed.GlobalConfigName, Reason: fmt.Sprintf("malformed rule: %v", err)}
	}

	allScope, err := feed.CompileScope(feed.ScopeAll, AllNode, all.Rules, all.Filters)
	if err != nil {
		return Options{}, &ValidationError{Node: AllNode, Reason: fmt.Sprintf("malformed rule: %v", err)}
	}

	opts := Options{
		Global:      globalScope,
		All:         allScope,
		AllSettings: settingsFromConfig(all.Settings),
		TagSettings: settingsFromConfig(global.Settings),
	}

	for _, config := range configs {
		def, err := definitionFromConfig(config)
		if err != nil {
			return Options{}, err
		}
		opts.Definitions = append(opts.Definitions, def)
	}

	return opts, nil
}

func definitionFromConfig(config *feed.Config) (Definition, error) {
	scope, err := feed.CompileScope(feed.ScopeFeed, config.Name, config.Rules, config.Filters)
	if err != nil {
		return Definition{}, &ValidationError{Node: config.Name, Reason: fmt.Sprintf("malformed rule: %v", err)}
	}

	def := Definition{
		Name:     config.Name,
		Tags:     config.Tags,
		Settings: settingsFromConfig(config.Settings),
	}

	if !config.IsComposite() {
		def.Kind = KindSource
		def.Scope = scope
		def.Source = feed.Source{
			Kind:     feed.SourceKind(config.Type),
			URL:      config.URL,
			Instance: config.Mastodon.Instance,
			Timeline: config.Mastodon.Timeline,
			User:     config.Mastodon.User,
			Token:    config.Mastodon.Token,
		}
		if def.Source.Kind == "" {
			def.Source.Kind = feed.SourceKindRSS
		}
		return def, nil
	}

	def.Kind = KindComposite
	def.Refs = config.Feeds

	// Tag lists select from every source node; an empty allowlist admits all tags.
	if len(config.Feeds) == 0 {
		def.AllSources = true
	}

	var tagRules []feed.Rule
	if len(config.TagAllowlist) > 0 {
		rule, err := feed.NewRule(feed.RuleIncludeTags, "", config.TagAllowlist)
		if err != nil {
			return Definition{}, &ValidationError{Node: config.Name, Reason: fmt.Sprintf("malformed tag allowlist: %v", err)}
		}
		tagRules = append(tagRules, rule)
	}
	if len(config.TagBlocklist) > 0 {
		rule, err := feed.NewRule(feed.RuleExcludeTags, "", config.TagBlocklist)
		if err != nil {
			return Definition{}, &ValidationError{Node: config.Name, Reason: fmt.Sprintf("malformed tag blocklist: %v", err)}
		}
		tagRules = append(tagRules, rule)
	}

	scope.Rules = append(tagRules, scope.Rules...)
	def.Scope = scope

	return def, nil
}

func settingsFromConfig(s feed.ConfigSettings) Settings {
	settings := Settings{
		Enabled:         s.Enabled,
		RefreshInterval: time.Duration(s.RefreshInterval) * time.Second,
		CacheTTL:        time.Duration(s.CacheTTL) * time.Second,
		Timeout:         time.Duration(s.Timeout) * time.Second,
		MaxItems:        feed.DefaultMaxItems,
		Oldest:          time.Duration(s.Oldest) * time.Second,
		KeepEmpty:       s.KeepEmpty,
		ApplyTags:       true,
		ExtractContent:  s.ExtractContent,
	}
	if s.ApplyTags != nil {
		settings.ApplyTags = *s.ApplyTags
	}
	if s.MaxItems != nil {
		settings.MaxItems = *s.MaxItems
	}
	return settings
}
