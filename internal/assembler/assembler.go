// Package assembler turns retrieved chunks and an optional highlighted
// excerpt into the numbered context block and citation list for a query.
package assembler

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/lectern/internal/vectorindex"
)

const (
	// DefaultPreviewLength bounds citation previews before the ellipsis.
	DefaultPreviewLength = 200

	selectedTextLabel   = "SELECTED TEXT:"
	relatedContentLabel = "RELATED CONTENT:"
	blockSeparator      = "\n\n"
)

// Citation points back at a chunk used to answer.
type Citation struct {
	SourceFile     string  `json:"file"`
	SectionTitle   string  `json:"section"`
	RelevanceScore float64 `json:"score"`
	TextPreview    string  `json:"text_preview"`
}

// Result is the assembled prompt context and its citations, in source order.
type Result struct {
	Context   string
	Citations []Citation
}

type config struct {
	previewLength int
}

// Option configures assembly.
type Option func(*config)

// WithPreviewLength truncates citation previews to n characters (default 200).
func WithPreviewLength(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.previewLength = n
		}
	}
}

// SourceLabel is the marker that opens the n-th (1-based) source block.
// Prompts ask the model to cite with exactly this form.
func SourceLabel(n int) string {
	return fmt.Sprintf("[Source %d]", n)
}

// Assemble builds the context. The highlighted excerpt comes first and is
// never cited; each hit becomes "[Source N] file — section" followed by its text.
// With both present, the source blocks sit under a RELATED CONTENT header.
func Assemble(hits []vectorindex.Hit, highlighted string, opts ...Option) Result {
	cfg := config{previewLength: DefaultPreviewLength}
	for _, opt := range opts {
		opt(&cfg)
	}

	parts := make([]string, 0, len(hits)+1)
	excerpt := strings.TrimSpace(highlighted)
	if excerpt != "" {
		parts = append(parts, selectedTextLabel+"\n"+excerpt)
	}

	citations := make([]Citation, 0, len(hits))
	for i, h := range hits {
		header := fmt.Sprintf("%s %s — %s", SourceLabel(i+1), h.SourceFile, h.SectionTitle)
		if i == 0 && excerpt != "" {
			header = relatedContentLabel + "\n" + header
		}
		parts = append(parts, header+"\n"+h.Text)
		citations = append(citations, Citation{
			SourceFile:     h.SourceFile,
			SectionTitle:   h.SectionTitle,
			RelevanceScore: h.Score,
			TextPreview:    preview(h.Text, cfg.previewLength),
		})
	}

	return Result{
		Context:   strings.Join(parts, blockSeparator),
		Citations: citations,
	}
}

func preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
