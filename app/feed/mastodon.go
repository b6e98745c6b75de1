package feed

import (
	"cmp"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

const mastodonTitleLength = 80

type mastodonAccount struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
	URL         string `json:"url"`
}

type mastodonTag struct {
	Name string `json:"name"`
}

type mastodonStatus struct {
	ID          string          `json:"id"`
	URI         string          `json:"uri"`
	URL         string          `json:"url"`
	CreatedAt   time.Time       `json:"created_at"`
	Content     string          `json:"content"`
	SpoilerText string          `json:"spoiler_text"`
	Account     mastodonAccount `json:"account"`
	Tags        []mastodonTag   `json:"tags"`
	Reblog      *mastodonStatus `json:"reblog"`
}

// MastodonParser turns a Mastodon statuses response into entries.
type MastodonParser struct{}

func NewMastodonParser() *MastodonParser {
	return &MastodonParser{}
}

func (p *MastodonParser) Run(data []byte, opts ParseOptions) (*ParseResult, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse statuses: %w", err)
	}

	result := &ParseResult{
		Metadata: &Metadata{Title: opts.Feed},
		Entries:  make([]*Entry, 0, len(raw)),
	}

	for i, message := range raw {
		var status mastodonStatus
		if err := json.Unmarshal(message, &status); err != nil {
			slog.Debug("Item skipped", "feed", opts.Feed, "error", &ParseError{Index: i, Reason: err.Error()})
			result.Skipped++
			continue
		}

		entry, err := p.normalizeStatus(i, &status, opts)
		if err != nil {
			slog.Debug("Item skipped", "feed", opts.Feed, "error", err)
			result.Skipped++
			continue
		}
		result.Entries = append(result.Entries, entry)
	}

	return result, nil
}

func (p *MastodonParser) normalizeStatus(index int, status *mastodonStatus, opts ParseOptions) (*Entry, error) {
	source := status
	if status.Reblog != nil {
		source = status.Reblog
	}

	link := cmp.Or(source.URL, source.URI)
	if link == "" && source.ID == "" {
		return nil, &ParseError{Index: index, Reason: "status has no id or url"}
	}

	author := "@" + cmp.Or(source.Account.Acct, source.Account.Username)
	if source.Account.DisplayName != "" {
		author = fmt.Sprintf("%s (%s)", source.Account.DisplayName, author)
	}

	entry := Entry{
		SourceID: cmp.Or(source.URI, source.ID),
		Title:    statusTitle(source),
		Author:   author,
		Content:  source.Content,
		Link:     link,
		Feed:     opts.Feed,
	}

	if source.CreatedAt.IsZero() {
		entry.PublishedAt = opts.Now.UTC()
		entry.Undated = true
	} else {
		entry.PublishedAt = source.CreatedAt.UTC()
	}

	entry.Tags = append(entry.Tags, opts.Tags...)
	if opts.ApplyTags {
		for _, tag := range source.Tags {
			entry.Tags = append(entry.Tags, tag.Name)
		}
	}

	return NewEntry(entry), nil
}

func statusTitle(status *mastodonStatus) string {
	text := cmp.Or(strings.TrimSpace(status.SpoilerText), HTMLText(status.Content))
	if utf8.RuneCountInString(text) > mastodonTitleLength {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:mastodonTitleLength])) + "…"
	}
	return cmp.Or(text, "@"+status.Account.Acct)
}
