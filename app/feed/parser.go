package feed

import (
	"bytes"
	"cmp"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/rss"
)

// ParseOptions carries the per-node settings that shape entries.
type ParseOptions struct {
	Feed      string
	Tags      []string
	ApplyTags bool
	KeepEmpty bool
	Now       time.Time
}

type ParseResult struct {
	Metadata *Metadata
	Entries  []*Entry
	Skipped  int
}

type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	gofeedParser := gofeed.NewParser()
	gofeedParser.RSSTranslator = &rssTranslator{}

	return &Parser{
		gofeedParser: gofeedParser,
	}
}

// rssTranslator keeps the RSS <comments> link, which the universal feed
// model drops.
type rssTranslator struct {
	gofeed.DefaultRSSTranslator
}

func (t *rssTranslator) Translate(feed interface{}) (*gofeed.Feed, error) {
	result, err := t.DefaultRSSTranslator.Translate(feed)
	if err != nil {
		return nil, err
	}

	rssFeed, ok := feed.(*rss.Feed)
	if !ok || len(rssFeed.Items) != len(result.Items) {
		return result, nil
	}

	for i, item := range rssFeed.Items {
		if item.Comments == "" {
			continue
		}
		if result.Items[i].Custom == nil {
			result.Items[i].Custom = make(map[string]string, 1)
		}
		result.Items[i].Custom["comments"] = item.Comments
	}

	return result, nil
}

// Run parses an RSS, Atom or JSON feed document. Items that cannot be
// normalized are skipped.
func (p *Parser) Run(data []byte, opts ParseOptions) (*ParseResult, error) {
	feed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	metadata := &Metadata{
		Title:       feed.Title,
		Link:        feed.Link,
		Description: feed.Description,
		Language:    feed.Language,
	}

	if feed.Image != nil {
		metadata.ImageURL = feed.Image.URL
	}

	if feed.PublishedParsed != nil {
		metadata.FeedPublishedAt = feed.PublishedParsed
	}

	result := &ParseResult{
		Metadata: metadata,
		Entries:  make([]*Entry, 0, len(feed.Items)),
	}

	for i, item := range feed.Items {
		entry, err := p.normalizeItem(i, item, opts)
		if err != nil {
			slog.Debug("Item skipped", "feed", opts.Feed, "error", err)
			result.Skipped++
			continue
		}
		result.Entries = append(result.Entries, entry)
	}

	return result, nil
}

func (p *Parser) normalizeItem(index int, item *gofeed.Item, opts ParseOptions) (*Entry, error) {
	if item == nil {
		return nil, &ParseError{Index: index, Reason: "empty item"}
	}

	link := item.Link
	if link == "" && len(item.Links) > 0 {
		link = item.Links[0]
	}

	entry := Entry{
		SourceID: item.GUID,
		Title:    item.Title,
		Author:   strings.Join(p.extractAuthors(item), ", "),
		Content:  cmp.Or(item.Description, item.Content),
		Link:     link,
		Feed:     opts.Feed,
	}

	if item.Custom != nil {
		entry.Comments = item.Custom["comments"]
	}

	switch {
	case item.PublishedParsed != nil:
		entry.PublishedAt = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		entry.PublishedAt = item.UpdatedParsed.UTC()
	default:
		entry.PublishedAt = opts.Now.UTC()
		entry.Undated = true
	}

	if strings.TrimSpace(entry.Title) == "" && !opts.KeepEmpty {
		return nil, &ParseError{Index: index, Reason: "missing title"}
	}
	if strings.TrimSpace(entry.Title+entry.Link+entry.SourceID+entry.Content) == "" {
		return nil, &ParseError{Index: index, Reason: "no identifying fields"}
	}

	entry.Tags = append(entry.Tags, opts.Tags...)
	if opts.ApplyTags {
		entry.Tags = append(entry.Tags, item.Categories...)
		if item.DublinCoreExt != nil {
			entry.Tags = append(entry.Tags, item.DublinCoreExt.Subject...)
		}
	}

	return NewEntry(entry), nil
}

func (p *Parser) extractAuthors(item *gofeed.Item) []string {
	var authors []string

	if len(item.Authors) > 0 {
		for _, author := range item.Authors {
			if author != nil {
				authorStr := p.formatAuthor(author.Name, author.Email)
				if authorStr != "" {
					authors = append(authors, authorStr)
				}
			}
		}
	} else if item.Author != nil {
		authorStr := p.formatAuthor(item.Author.Name, item.Author.Email)
		if authorStr != "" {
			authors = append(authors, authorStr)
		}
	}

	if len(authors) == 0 && item.DublinCoreExt != nil {
		authors = append(authors, item.DublinCoreExt.Creator...)
	}

	return authors
}

func (p *Parser) formatAuthor(name, email string) string {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if name != "" && email != "" {
		return fmt.Sprintf("%s (%s)", email, name)
	} else if name != "" {
		return name
	} else if email != "" {
		return email
	}

	return ""
}
