package feed

import (
	"strings"
	"testing"
)

const articlePage = `
<!DOCTYPE html>
<html>
<head>
	<title>Zig 0.14 release notes</title>
	<style>body { font-family: sans-serif; }</style>
	<script>trackVisitor();</script>
</head>
<body>
	<header><nav>Home | About | Archive</nav></header>
	<main>
		<article>
			<h1>Zig 0.14 release notes</h1>
			<p>The incremental compilation work landed in this release and cuts rebuild times for large projects considerably.</p>
			<p>The build system gained a new package fetching model, and the standard library received a reworked allocator interface.</p>
			<p>Read the <a href="/download">download page</a> for binaries covering every supported target and operating system.</p>
		</article>
	</main>
	<footer><p>Copyright 2025 Zig Software Foundation</p></footer>
</body>
</html>
`

func TestContentExtractorExtractsArticleBody(t *testing.T) {
	extractor := NewContentExtractor()

	result, err := extractor.Run([]byte(articlePage), "https://ziglang.org/news/0.14/")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !strings.Contains(result, "incremental compilation") {
		t.Errorf("Expected extracted content to contain article text, got %q", result)
	}

	if strings.Contains(result, "trackVisitor") {
		t.Errorf("Expected extracted content to exclude scripts")
	}

	if strings.Contains(result, "font-family") {
		t.Errorf("Expected extracted content to exclude styles")
	}
}

func TestContentExtractorResolvesRelativeLinks(t *testing.T) {
	extractor := NewContentExtractor()

	result, err := extractor.Run([]byte(articlePage), "https://ziglang.org/news/0.14/")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !strings.Contains(result, "https://ziglang.org/download") {
		t.Errorf("Expected relative link to be resolved against the page URL, got %q", result)
	}
}

func TestContentExtractorEmptyData(t *testing.T) {
	extractor := NewContentExtractor()

	for _, data := range [][]byte{nil, {}} {
		result, err := extractor.Run(data, "")
		if err == nil {
			t.Fatalf("Expected error for empty data")
		}
		if result != "" {
			t.Errorf("Expected empty result for empty data, got %q", result)
		}
		if err.Error() != "HTML data is empty" {
			t.Errorf("Expected error message 'HTML data is empty', got '%s'", err.Error())
		}
	}
}

func TestContentExtractorMalformedHTML(t *testing.T) {
	extractor := NewContentExtractor()

	result, err := extractor.Run([]byte(`<html><body><p>Unclosed paragraph<div>Malformed content</body>`), "")

	// Readability either recovers some content or reports failure, never both.
	if err != nil && result != "" {
		t.Errorf("Expected empty result when extraction fails")
	}
	if err == nil && result == "" {
		t.Errorf("Expected non-empty result when extraction succeeds")
	}
}
