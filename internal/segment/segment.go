// Package segment splits markdown documents into overlapping, section-aware
// chunks ready for embedding.
package segment

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultChunkSize        = 800
	DefaultChunkOverlap     = 100
	DefaultMinSectionLength = 50

	// IntroductionTitle names content that precedes the first heading.
	IntroductionTitle = "Introduction"

	// sentenceWindow is how far either side of a cut we look for ". ".
	sentenceWindow = 100
)

var (
	frontMatterRe = regexp.MustCompile(`(?s)^---(.*?)---\s*`)
	headingRe     = regexp.MustCompile(`^#{2,3}\s+(.+)$`)
	spaceRe       = regexp.MustCompile(`\s+`)
)

// Chunk is a contiguous piece of a document section.
type Chunk struct {
	Text          string
	SourceFile    string
	SectionTitle  string
	ChunkIndex    int
	DocumentID    string
	DocumentTitle string
}

// Options tunes chunk sizes. Zero values take the defaults; a negative
// ChunkOverlap disables overlap.
type Options struct {
	ChunkSize        int
	ChunkOverlap     int
	MinSectionLength int
}

// Segmenter is stateless and safe for concurrent use.
type Segmenter struct {
	opts Options
}

func New(opts Options) *Segmenter {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	switch {
	case opts.ChunkOverlap < 0:
		opts.ChunkOverlap = 0
	case opts.ChunkOverlap == 0:
		opts.ChunkOverlap = DefaultChunkOverlap
	}
	if opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = 0
	}
	if opts.MinSectionLength <= 0 {
		opts.MinSectionLength = DefaultMinSectionLength
	}
	return &Segmenter{opts: opts}
}

// DocumentID derives a stable identifier from a relative path.
func DocumentID(relPath string) string {
	sum := md5.Sum([]byte(relPath))
	return hex.EncodeToString(sum[:])[:16]
}

type section struct {
	title   string
	content string
}

// Segment splits raw markdown into chunks. Chunk indexes restart at zero for
// every section; sections shorter than MinSectionLength are dropped.
func (s *Segmenter) Segment(relPath, raw string) []Chunk {
	body, title := stripFrontMatter(raw)
	return s.chunkSections(relPath, title, splitSections(body))
}

func (s *Segmenter) chunkSections(relPath, docTitle string, sections []section) []Chunk {
	docID := DocumentID(relPath)
	out := make([]Chunk, 0)
	for _, sec := range sections {
		content := strings.TrimSpace(sec.content)
		if len([]rune(content)) < s.opts.MinSectionLength {
			continue
		}
		for i, text := range s.SplitText(content) {
			out = append(out, Chunk{
				Text:          text,
				SourceFile:    relPath,
				SectionTitle:  sec.title,
				ChunkIndex:    i,
				DocumentID:    docID,
				DocumentTitle: docTitle,
			})
		}
	}
	return out
}

// SplitText collapses whitespace and cuts text into overlapping windows,
// preferring to end each window just after a sentence.
func (s *Segmenter) SplitText(text string) []string {
	text = strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
	if text == "" {
		return nil
	}
	runes := []rune(text)
	size, overlap := s.opts.ChunkSize, s.opts.ChunkOverlap
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	for start := 0; start < len(runes); {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else if cut := sentenceCut(runes, end, start+overlap); cut > 0 {
			end = cut
		}
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return chunks
}

// sentenceCut returns the offset just past the last ". " inside
// [target-window, target+window), or 0 when no cut beyond floor exists.
func sentenceCut(runes []rune, target, floor int) int {
	lo := target - sentenceWindow
	if lo < 0 {
		lo = 0
	}
	hi := target + sentenceWindow
	if hi > len(runes) {
		hi = len(runes)
	}
	for i := hi - 2; i >= lo; i-- {
		if runes[i] == '.' && runes[i+1] == ' ' {
			if i+1 <= floor {
				return 0
			}
			return i + 1
		}
	}
	return 0
}

func splitSections(body string) []section {
	var (
		sections []section
		title    = IntroductionTitle
		lines    []string
		open     bool
	)
	for _, line := range strings.Split(body, "\n") {
		if m := headingRe.FindStringSubmatch(strings.TrimRight(line, "\r")); m != nil {
			if open {
				sections = append(sections, section{title: title, content: strings.Join(lines, "\n")})
			}
			title = strings.TrimSpace(m[1])
			lines = lines[:0]
			open = false
			continue
		}
		lines = append(lines, line)
		open = true
	}
	if open {
		sections = append(sections, section{title: title, content: strings.Join(lines, "\n")})
	}
	return sections
}

// stripFrontMatter removes a leading --- block and returns its title, if any.
func stripFrontMatter(raw string) (string, string) {
	m := frontMatterRe.FindStringSubmatchIndex(raw)
	if m == nil {
		return raw, ""
	}
	var meta struct {
		Title string `yaml:"title"`
	}
	if err := yaml.Unmarshal([]byte(raw[m[2]:m[3]]), &meta); err != nil {
		meta.Title = ""
	}
	return raw[m[1]:], strings.TrimSpace(meta.Title)
}
