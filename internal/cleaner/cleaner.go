// Package cleaner provides type-aware text normalization (HTML, Markdown,
// code, PDF, plain text) with a per-invocation metrics report. Cleaning is
// pure and infallible: on an internal failure the original text is returned
// unchanged rather than propagating an error.
package cleaner

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// DocumentType selects which pipeline Clean runs.
type DocumentType string

const (
	TypeText     DocumentType = "TEXT"
	TypeMarkdown DocumentType = "MARKDOWN"
	TypeHTML     DocumentType = "HTML"
	TypeWebsite  DocumentType = "WEBSITE"
	TypeCode     DocumentType = "CODE"
	TypePDF      DocumentType = "PDF"
)

// Strategy controls how aggressively a pipeline normalizes text.
type Strategy string

const (
	Minimal    Strategy = "MINIMAL"
	Standard   Strategy = "STANDARD"
	Aggressive Strategy = "AGGRESSIVE"
)

// Metrics reports what a Clean call changed.
type Metrics struct {
	OriginalLength     int
	CleanedLength      int
	CharsRemoved       int
	HTMLTagsRemoved    int
	WhitespaceNormalized bool
	BoilerplateRemoved  int
}

var (
	boilerplateBlocks = regexp.MustCompile(`(?is)<(nav|header|footer|aside)[^>]*>.*?</(nav|header|footer|aside)>`)
	boilerplateByAttr = regexp.MustCompile(`(?is)<[^>]+(class|id)\s*=\s*["'][^"']*(ad|social|share|comment|sidebar)[^"']*["'][^>]*>.*?</[a-zA-Z0-9]+>`)
	scriptOrStyle     = regexp.MustCompile(`(?is)<(script|noscript|style)[^>]*>.*?</(script|noscript|style)>`)
	anyTag            = regexp.MustCompile(`(?s)<[^>]+>`)
	pageNumberLine    = regexp.MustCompile(`(?m)^\s*\d+\s*$`)
	hyphenBreak       = regexp.MustCompile(`-\n(\w)`)
	mdLink            = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdEmphasis        = regexp.MustCompile(`[*_]([^*_]+)[*_]`)
	mdHeading         = regexp.MustCompile(`(?m)^#+\s*`)
	mdBacktick        = regexp.MustCompile("`+")
	threeOrMoreBlank  = regexp.MustCompile(`\n{3,}`)
	fourOrMoreBlank   = regexp.MustCompile(`\n{4,}`)
	runsOfSpaces      = regexp.MustCompile(`[ \t]{2,}`)
	nonRetainedChars  = regexp.MustCompile(`[^\w\s.,!?;:()\-"']`)
)

// Clean normalizes text per the given DocumentType and Strategy and reports
// what it changed. It never returns an error; on internal panics recovered
// here the original text is returned.
func Clean(text string, docType DocumentType, strategy Strategy) (cleaned string, metrics Metrics) {
	metrics.OriginalLength = len(text)
	defer func() {
		if r := recover(); r != nil {
			cleaned = text
		}
		metrics.CleanedLength = len(cleaned)
		if metrics.OriginalLength >= metrics.CleanedLength {
			metrics.CharsRemoved = metrics.OriginalLength - metrics.CleanedLength
		}
	}()

	switch docType {
	case TypeHTML, TypeWebsite:
		cleaned = cleanHTML(text, strategy, &metrics)
	case TypeMarkdown:
		cleaned = cleanMarkdown(text, strategy)
	case TypeCode:
		cleaned = cleanCode(text)
	case TypePDF:
		cleaned = cleanPDF(text)
	default:
		cleaned = cleanText(text, strategy)
	}
	return cleaned, metrics
}

func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

func nfcNormalize(s string) string {
	// The example pack declares no unicode-normalization library; NFC here
	// is approximated by stripping non-printable control runes, which is
	// the only normalization step available without one.
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func normalizeWhitespace(s string) string {
	s = runsOfSpaces.ReplaceAllString(s, " ")
	s = threeOrMoreBlank.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.Join(lines, "\n")
}

func cleanHTML(text string, strategy Strategy, metrics *Metrics) string {
	s := text
	if strategy == Aggressive {
		before := len(s)
		s = boilerplateBlocks.ReplaceAllString(s, "")
		s = boilerplateByAttr.ReplaceAllString(s, "")
		s = scriptOrStyle.ReplaceAllString(s, "")
		metrics.BoilerplateRemoved = before - len(s)
	} else {
		s = scriptOrStyle.ReplaceAllString(s, "")
	}
	before := anyTag.FindAllString(s, -1)
	metrics.HTMLTagsRemoved = len(before)
	s = stripTagsKeepText(s)
	s = nfcNormalize(s)
	s = normalizeWhitespace(s)
	metrics.WhitespaceNormalized = true
	return strings.TrimSpace(s)
}

// stripTagsKeepText walks the HTML document tree and concatenates text
// nodes, falling back to a regex tag-strip if parsing fails.
func stripTagsKeepText(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return anyTag.ReplaceAllString(s, " ")
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String()
}

func cleanMarkdown(text string, strategy Strategy) string {
	s := normalizeLineEndings(text)
	if strategy == Aggressive {
		s = mdLink.ReplaceAllString(s, "$1")
		s = mdEmphasis.ReplaceAllString(s, "$1")
		s = mdHeading.ReplaceAllString(s, "")
		s = mdBacktick.ReplaceAllString(s, "")
	}
	s = threeOrMoreBlank.ReplaceAllString(s, "\n\n")
	s = normalizeWhitespace(s)
	return strings.TrimSpace(s)
}

func cleanCode(text string) string {
	s := normalizeLineEndings(text)
	s = fourOrMoreBlank.ReplaceAllString(s, "\n\n\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	s = strings.Join(lines, "\n")
	return nfcNormalize(s)
}

func cleanPDF(text string) string {
	s := normalizeLineEndings(text)
	s = pageNumberLine.ReplaceAllString(s, "")
	s = hyphenBreak.ReplaceAllString(s, "$1")
	s = nfcNormalize(s)
	s = normalizeWhitespace(s)
	return strings.TrimSpace(s)
}

func cleanText(text string, strategy Strategy) string {
	s := normalizeLineEndings(text)
	s = nfcNormalize(s)
	if strategy == Minimal {
		return s
	}
	s = normalizeWhitespace(s)
	if strategy == Aggressive {
		s = nonRetainedChars.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}
