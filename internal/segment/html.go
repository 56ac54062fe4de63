package segment

import (
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// SegmentHTML extracts the readable article from an HTML page and chunks it
// as a single section titled after the article.
func (s *Segmenter) SegmentHTML(relPath string, r io.Reader) ([]Chunk, error) {
	pageURL := &url.URL{Scheme: "file", Path: "/" + filepath.ToSlash(relPath)}
	article, err := readability.FromReader(r, pageURL)
	if err != nil {
		return nil, fmt.Errorf("readability %s: %w", relPath, err)
	}
	title := strings.TrimSpace(article.Title)
	sectionTitle := title
	if sectionTitle == "" {
		sectionTitle = IntroductionTitle
	}
	return s.chunkSections(relPath, title, []section{{title: sectionTitle, content: article.TextContent}}), nil
}
