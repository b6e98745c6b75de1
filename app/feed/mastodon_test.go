package feed

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statusesJSON = `[
  {
    "id": "1",
    "uri": "https://fosstodon.org/users/zig/statuses/1",
    "url": "https://fosstodon.org/@zig/1",
    "created_at": "2024-04-01T10:00:00.000Z",
    "content": "<p>Zig 0.12 is out! <a href=\"https://ziglang.org\">#zig</a></p>",
    "spoiler_text": "",
    "account": {"id": "9", "username": "zig", "acct": "zig", "display_name": "Zig"},
    "tags": [{"name": "Zig"}]
  },
  {
    "id": "2",
    "uri": "https://fosstodon.org/users/bob/statuses/2",
    "created_at": "2024-04-01T11:00:00.000Z",
    "content": "",
    "account": {"id": "10", "username": "bob", "acct": "bob", "display_name": ""},
    "reblog": {
      "id": "3",
      "uri": "https://hachyderm.io/users/alice/statuses/3",
      "url": "https://hachyderm.io/@alice/3",
      "created_at": "2024-03-31T09:00:00.000Z",
      "content": "<p>Original post</p>",
      "spoiler_text": "CW: compilers",
      "account": {"id": "11", "username": "alice", "acct": "alice@hachyderm.io", "display_name": "Alice"},
      "tags": []
    }
  },
  {"id": 42}
]`

func TestMastodonParser(t *testing.T) {
	result, err := NewMastodonParser().Run([]byte(statusesJSON), ParseOptions{Feed: "zig-social", ApplyTags: true, Now: parseNow})
	require.NoError(t, err)

	require.Len(t, result.Entries, 2)
	assert.Equal(t, 1, result.Skipped)

	first := result.Entries[0]
	assert.Equal(t, "https://fosstodon.org/@zig/1", first.ID)
	assert.Equal(t, "Zig (@zig)", first.Author)
	assert.Equal(t, "Zig 0.12 is out! #zig", first.Title)
	assert.True(t, first.HasTag("zig"))

	reblog := result.Entries[1]
	assert.Equal(t, "https://hachyderm.io/@alice/3", reblog.ID)
	assert.Equal(t, "CW: compilers", reblog.Title)
	assert.Equal(t, "Alice (@alice@hachyderm.io)", reblog.Author)
}

func TestMastodonTitleTruncated(t *testing.T) {
	status := &mastodonStatus{Content: "<p>" + strings.Repeat("word ", 40) + "</p>"}
	title := statusTitle(status)

	assert.True(t, strings.HasSuffix(title, "…"))
	assert.LessOrEqual(t, len([]rune(title)), mastodonTitleLength+1)
}

func TestMastodonParserInvalidPayload(t *testing.T) {
	_, err := NewMastodonParser().Run([]byte(`{"error": "not a list"}`), ParseOptions{})
	assert.Error(t, err)
}
