package feed

import (
	"time"
)

// Feed processing types

type Metadata struct {
	Title           string
	Link            string
	Description     string
	ImageURL        string
	Language        string
	FeedPublishedAt *time.Time
}

// Entry is a single normalized feed item. Entries are immutable once built
// by NewEntry; a later fetch of the same item produces a new Entry.
type Entry struct {
	ID          string // Stable identity, see Identity
	SourceID    string // Feed-provided guid/id, if any
	Title       string
	Author      string
	PublishedAt time.Time
	Undated     bool // Source carried no timestamp, PublishedAt is the parse time
	Content     string
	Link        string
	Comments    string
	Tags        []string // Lowercased, deduplicated, sorted
	Feed        string   // Name of the source node that owns the entry

	foldedTitle   string
	foldedContent string
	titleWords    map[string]struct{}
	contentWords  map[string]struct{}
}

type SourceKind string

const (
	SourceKindRSS      SourceKind = "rss"
	SourceKindMastodon SourceKind = "mastodon"
)

// Source describes where a source node fetches from.
type Source struct {
	Kind     SourceKind
	URL      string
	Instance string // Mastodon instance host
	Timeline string // public, local or home
	User     string // Mastodon account to follow instead of a timeline
	Token    string
}

// Configuration types

type Config struct {
	Name         string         // Derived from filename (without extension)
	URL          string         `yaml:"url" toml:"url"`
	Type         string         `yaml:"type" toml:"type"`
	Mastodon     ConfigMastodon `yaml:"mastodon" toml:"mastodon"`
	Feeds        []string       `yaml:"feeds" toml:"feeds"`
	TagAllowlist []string       `yaml:"tag_allowlist" toml:"tag_allowlist"`
	TagBlocklist []string       `yaml:"tag_blocklist" toml:"tag_blocklist"`
	Tags         []string       `yaml:"tags" toml:"tags"`
	Settings     ConfigSettings `yaml:"settings" toml:"settings"`
	Filters      []ConfigFilter `yaml:"filters" toml:"filters"`
	Rules        ConfigRules    `yaml:"rules" toml:"rules"`
}

type ConfigMastodon struct {
	Instance string `yaml:"instance" toml:"instance"`
	Timeline string `yaml:"timeline" toml:"timeline"`
	User     string `yaml:"user" toml:"user"`
	Token    string `yaml:"token" toml:"token"`
}

type ConfigSettings struct {
	Enabled         bool  `yaml:"enabled" toml:"enabled"`
	RefreshInterval int   `yaml:"refresh_interval" toml:"refresh_interval"` // seconds
	CacheTTL        int   `yaml:"cache_ttl" toml:"cache_ttl"`               // seconds
	MaxItems        *int  `yaml:"max_items" toml:"max_items"` // 0 keeps nothing
	Oldest          int   `yaml:"oldest" toml:"oldest"`   // seconds
	Timeout         int   `yaml:"timeout" toml:"timeout"` // seconds
	KeepEmpty       bool  `yaml:"keep_empty" toml:"keep_empty"`
	ApplyTags       *bool `yaml:"apply_tags" toml:"apply_tags"`
	ExtractContent  bool  `yaml:"extract_content" toml:"extract_content"`
}

type ConfigFilter struct {
	Field    string   `yaml:"field" toml:"field"`
	Includes []string `yaml:"includes" toml:"includes"`
	Excludes []string `yaml:"excludes" toml:"excludes"`
}

type ConfigRules struct {
	ExcludeTitleWords        []string `yaml:"exclude_title_words" toml:"exclude_title_words"`
	ExcludeContentWords      []string `yaml:"exclude_content_words" toml:"exclude_content_words"`
	ExcludeSubstrings        []string `yaml:"exclude_substrings" toml:"exclude_substrings"`
	ExcludeTags              []string `yaml:"exclude_tags" toml:"exclude_tags"`
	MustIncludeSubstrings    []string `yaml:"must_include_substrings" toml:"must_include_substrings"`
	MustIncludeAllSubstrings []string `yaml:"must_include_all_substrings" toml:"must_include_all_substrings"`
	IncludeTags              []string `yaml:"include_tags" toml:"include_tags"`
}
