package segment

import (
	"fmt"
	"strings"
	"testing"
)

func sentences(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("Robots sense the world through calibrated sensors. ")
	}
	return strings.TrimSpace(b.String())
}

func numbered(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Sentence %d explains how joint %d moves. ", i, i*7)
	}
	return strings.TrimSpace(b.String())
}

func TestSegmentDropsShortSectionsAndSplitsLongOnes(t *testing.T) {
	t.Parallel()
	intro := strings.Repeat("a", 40)
	details := sentences(18) // ~900 chars
	if len(details) < 900 {
		details += strings.Repeat("b", 900-len(details))
	}
	doc := intro + "\n## Details\n" + details

	chunks := New(Options{}).Segment("chapter1/intro.md", doc)
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.SectionTitle != "Details" {
			t.Fatalf("chunk %d section = %q, want Details", i, c.SectionTitle)
		}
		if c.ChunkIndex != i {
			t.Fatalf("chunk %d index = %d", i, c.ChunkIndex)
		}
		if c.SourceFile != "chapter1/intro.md" {
			t.Fatalf("unexpected source file %q", c.SourceFile)
		}
		if c.DocumentID != DocumentID("chapter1/intro.md") {
			t.Fatalf("unexpected document id %q", c.DocumentID)
		}
	}
}

func TestSegmentIntroductionAndHeadingLevels(t *testing.T) {
	t.Parallel()
	body := sentences(2)
	doc := body + "\n## Kinematics\n" + body + "\n#### Not a heading\n" + body + "\n### Dynamics\n" + body + "\n# Title level one\n"

	chunks := New(Options{}).Segment("a.md", doc)
	var titles []string
	for _, c := range chunks {
		titles = append(titles, c.SectionTitle)
	}
	want := []string{"Introduction", "Kinematics", "Dynamics"}
	if strings.Join(titles, "|") != strings.Join(want, "|") {
		t.Fatalf("titles = %v, want %v", titles, want)
	}
	if !strings.Contains(chunks[1].Text, "#### Not a heading") {
		t.Fatalf("level-four heading should stay in section text: %q", chunks[1].Text)
	}
}

func TestSegmentStripsFrontMatter(t *testing.T) {
	t.Parallel()
	doc := "---\ntitle: Humanoid Locomotion\nsidebar_position: 2\n---\n\n" + sentences(3)
	chunks := New(Options{}).Segment("loco.mdx", doc)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if strings.Contains(chunks[0].Text, "sidebar_position") {
		t.Fatalf("front matter leaked into chunk: %q", chunks[0].Text)
	}
	if chunks[0].DocumentTitle != "Humanoid Locomotion" {
		t.Fatalf("document title = %q", chunks[0].DocumentTitle)
	}
	if chunks[0].SectionTitle != IntroductionTitle {
		t.Fatalf("section title = %q", chunks[0].SectionTitle)
	}
}

func TestSegmentMalformedFrontMatterStillStripped(t *testing.T) {
	t.Parallel()
	doc := "---\ntitle: [unterminated\n---\n" + sentences(3)
	chunks := New(Options{}).Segment("x.md", doc)
	if len(chunks) != 1 || chunks[0].DocumentTitle != "" {
		t.Fatalf("unexpected chunks %#v", chunks)
	}
	if strings.Contains(chunks[0].Text, "unterminated") {
		t.Fatalf("front matter leaked: %q", chunks[0].Text)
	}
}

func TestSegmentEmptyDocument(t *testing.T) {
	t.Parallel()
	if got := New(Options{}).Segment("empty.md", ""); len(got) != 0 {
		t.Fatalf("expected no chunks, got %d", len(got))
	}
}

func TestSplitTextShortSectionSingleChunk(t *testing.T) {
	t.Parallel()
	text := "Line one.\n\n   Line   two.\tLine three."
	got := New(Options{}).SplitText(text)
	if len(got) != 1 || got[0] != "Line one. Line two. Line three." {
		t.Fatalf("SplitText() = %#v", got)
	}
}

func TestSplitTextOverlapLeavesNoGaps(t *testing.T) {
	t.Parallel()
	seg := New(Options{})
	text := numbered(80)
	chunks := seg.SplitText(text)
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	prevStart, prevEnd := -1, 0
	for i, c := range chunks {
		start := strings.Index(text, c)
		if start < 0 {
			t.Fatalf("chunk %d is not a substring of the source", i)
		}
		if i > 0 {
			if start <= prevStart {
				t.Fatalf("chunk %d does not advance: start %d, previous %d", i, start, prevStart)
			}
			if start > prevEnd {
				t.Fatalf("gap before chunk %d: previous end %d, start %d", i, prevEnd, start)
			}
		}
		prevStart, prevEnd = start, start+len(c)
	}
	if prevEnd != len(text) {
		t.Fatalf("chunks end at %d, text length %d", prevEnd, len(text))
	}
}

func TestSplitTextDefaultOverlapRepeatsTail(t *testing.T) {
	t.Parallel()
	seg := New(Options{})
	if seg.opts.ChunkOverlap != DefaultChunkOverlap {
		t.Fatalf("ChunkOverlap = %d, want %d", seg.opts.ChunkOverlap, DefaultChunkOverlap)
	}
	text := numbered(80)
	chunks := seg.SplitText(text)
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	total := 0
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		tail := strings.TrimLeft(string(prev[len(prev)-DefaultChunkOverlap:]), " ")
		if !strings.HasPrefix(chunks[i], tail) {
			t.Fatalf("chunk %d does not start with the tail of chunk %d:\ntail %q\nnext %q", i, i-1, tail, chunks[i])
		}
		total += len(chunks[i-1])
	}
	total += len(chunks[len(chunks)-1])
	if total <= len(text) {
		t.Fatalf("chunks cover %d characters of a %d character text; expected repetition", total, len(text))
	}
}

func TestNewOverlapOptions(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   Options
		want int
	}{
		{Options{}, DefaultChunkOverlap},
		{Options{ChunkOverlap: -1}, 0},
		{Options{ChunkOverlap: 40}, 40},
		{Options{ChunkSize: 80}, 0},
	}
	for _, tc := range cases {
		if got := New(tc.in).opts.ChunkOverlap; got != tc.want {
			t.Fatalf("New(%+v).ChunkOverlap = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestSplitTextPrefersSentenceBoundary(t *testing.T) {
	t.Parallel()
	chunks := New(Options{}).SplitText(sentences(40))
	for i, c := range chunks[:len(chunks)-1] {
		if !strings.HasSuffix(c, ".") {
			t.Fatalf("chunk %d does not end at a sentence: %q", i, c[len(c)-20:])
		}
	}
}

func TestSplitTextAlwaysProgresses(t *testing.T) {
	t.Parallel()
	// a sentence end right after the overlap point must not stall the loop
	seg := New(Options{ChunkSize: 120, ChunkOverlap: 100})
	text := strings.Repeat("x", 101) + ". " + strings.Repeat("y", 400)
	chunks := seg.SplitText(text)
	if len(chunks) == 0 || len(chunks) > 40 {
		t.Fatalf("unexpected chunk count %d", len(chunks))
	}
	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(last, "y") {
		t.Fatalf("last chunk does not reach the end: %q", last)
	}
}

func TestDocumentIDStable(t *testing.T) {
	t.Parallel()
	a := DocumentID("module-1/ros2.md")
	if len(a) != 16 || a != DocumentID("module-1/ros2.md") {
		t.Fatalf("unstable id %q", a)
	}
	if a == DocumentID("module-1/ros3.md") {
		t.Fatalf("different paths produced the same id")
	}
}

func TestSegmentHTML(t *testing.T) {
	t.Parallel()
	page := `<html><head><title>Sensor Fusion</title></head><body><article><h1>Sensor Fusion</h1><p>` +
		sentences(10) + `</p><p>` + sentences(10) + `</p></article></body></html>`
	chunks, err := New(Options{}).SegmentHTML("notes/fusion.html", strings.NewReader(page))
	if err != nil {
		t.Fatalf("SegmentHTML() error = %v", err)
	}
	if len(chunks) == 0 {
		t.Fatalf("expected chunks from article body")
	}
	if chunks[0].SectionTitle != "Sensor Fusion" {
		t.Fatalf("section title = %q", chunks[0].SectionTitle)
	}
	if !strings.Contains(chunks[0].Text, "calibrated sensors") {
		t.Fatalf("unexpected text %q", chunks[0].Text)
	}
}
