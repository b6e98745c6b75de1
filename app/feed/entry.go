package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
)

// NewEntry normalizes e and returns it as an immutable entry. The identity is
// derived when e.ID is empty.
func NewEntry(e Entry) *Entry {
	e.Title = strings.TrimSpace(e.Title)
	e.Author = strings.TrimSpace(e.Author)
	e.Link = strings.TrimSpace(e.Link)
	e.SourceID = strings.TrimSpace(e.SourceID)
	e.Tags = NormalizeTags(e.Tags)

	if e.ID == "" {
		e.ID = Identity(e.Link, e.SourceID, e.Title, e.Author, e.Content)
	}

	e.foldedTitle = Fold(e.Title)
	e.foldedContent = Fold(HTMLText(e.Content))
	e.titleWords = words(e.foldedTitle)
	e.contentWords = words(e.foldedContent)

	return &e
}

// Identity derives the stable key of an entry: the normalized link when there
// is one, then the feed-provided id, then a hash of the visible fields.
func Identity(link, sourceID, title, author, content string) string {
	if key := NormalizeLink(link); key != "" {
		return key
	}
	if id := strings.TrimSpace(sourceID); id != "" {
		return "guid:" + id
	}

	hash := sha256.Sum256([]byte(title + "|" + author + "|" + content))
	return "hash:" + hex.EncodeToString(hash[:])
}

func NormalizeLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}

	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return link
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = strings.TrimSuffix(u.RawPath, "/")

	return u.String()
}

func NormalizeTag(tag string) string {
	return lower(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
}

// NormalizeTags lowercases, deduplicates and sorts tags.
func NormalizeTags(tags []string) []string {
	normalized := lo.Uniq(lo.Filter(lo.Map(tags, func(t string, _ int) string {
		return NormalizeTag(t)
	}), func(t string, _ int) bool {
		return t != ""
	}))
	slices.Sort(normalized)
	return normalized
}

func (e *Entry) HasTag(tag string) bool {
	_, found := slices.BinarySearch(e.Tags, NormalizeTag(tag))
	return found
}

func (e *Entry) Equal(o *Entry) bool {
	if e == o {
		return true
	}
	if e == nil || o == nil {
		return false
	}

	return e.ID == o.ID &&
		e.SourceID == o.SourceID &&
		e.Title == o.Title &&
		e.Author == o.Author &&
		e.PublishedAt.Equal(o.PublishedAt) &&
		e.Undated == o.Undated &&
		e.Content == o.Content &&
		e.Link == o.Link &&
		e.Comments == o.Comments &&
		e.Feed == o.Feed &&
		slices.Equal(e.Tags, o.Tags)
}

func (e *Entry) WithContent(content string) *Entry {
	c := *e
	c.Content = content
	return NewEntry(c)
}

func (e *Entry) WithPublishedAt(t time.Time) *Entry {
	c := *e
	c.PublishedAt = t
	return NewEntry(c)
}
