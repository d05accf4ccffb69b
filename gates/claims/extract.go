// Package claims evaluates declarative wording rules against a structured extraction of a
// manuscript.
package claims

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Document is a manuscript split into sections, paragraphs and sentences.
type Document struct {
	Sections []*Section
}

type Section struct {
	Title      string
	Paragraphs []*Paragraph
}

type Paragraph struct {
	Sentences []*Sentence
}

// A Sentence keeps its text as written and in normalized form. Index is its position within the
// section.
type Sentence struct {
	Text  string
	Norm  string
	Index int
}

// Sentences returns every sentence of the section in order.
func (s *Section) Sentences() []*Sentence {
	var out []*Sentence
	for _, p := range s.Paragraphs {
		out = append(out, p.Sentences...)
	}
	return out
}

// Normalize maps text to the form rules are matched in: invalid UTF-8 replaced, NFKC
// compatibility composition, case folded, whitespace collapsed.
func Normalize(s string) string {
	t := transform.Chain(runes.ReplaceIllFormed(), norm.NFKC, cases.Fold())
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.FieldsFunc(out, unicode.IsSpace), " ")
}

var (
	markdownHeading = regexp.MustCompile(`^#{1,6}\s+(.*)$`)
	latexHeading    = regexp.MustCompile(`^\\(?:sub)*section\*?\{(.*)\}\s*$`)
	sentenceEnd     = regexp.MustCompile(`[.!?]+["'\x{201D}\x{2019})\]]*(\s+|$)`)
)

// Extract splits text into sections at markdown or LaTeX headings, paragraphs at blank lines and
// sentences at terminal punctuation. Text before the first heading belongs to an untitled section.
func Extract(text string) *Document {
	doc := &Document{}
	sec := &Section{}
	var para []string

	flushPara := func() {
		if len(para) == 0 {
			return
		}
		p := &Paragraph{}
		for _, s := range splitSentences(strings.Join(para, " ")) {
			p.Sentences = append(p.Sentences, &Sentence{Text: s, Norm: Normalize(s)})
		}
		if len(p.Sentences) > 0 {
			sec.Paragraphs = append(sec.Paragraphs, p)
		}
		para = nil
	}
	flushSection := func() {
		flushPara()
		if sec.Title != "" || len(sec.Paragraphs) > 0 {
			for i, s := range sec.Sentences() {
				s.Index = i
			}
			doc.Sections = append(doc.Sections, sec)
		}
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "%") {
			// latex comment line
			continue
		}
		if m := markdownHeading.FindStringSubmatch(line); m != nil {
			flushSection()
			sec = &Section{Title: strings.TrimSpace(m[1])}
			continue
		}
		if m := latexHeading.FindStringSubmatch(line); m != nil {
			flushSection()
			sec = &Section{Title: strings.TrimSpace(m[1])}
			continue
		}
		if line == "" {
			flushPara()
			continue
		}
		para = append(para, line)
	}
	flushSection()
	return doc
}

func splitSentences(p string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(p, -1) {
		if s := strings.TrimSpace(p[last:loc[1]]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(p[last:]); s != "" {
		out = append(out, s)
	}
	return out
}
