package vault

import (
	"regexp"
	"sort"
	"sync"
)

var (
	singleConcept = regexp.MustCompile(`\b[A-Z][a-z]{2,}\b`)
	multiConcept  = regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+(?: [A-Z][a-z]+)?\b`)
	existingLink  = regexp.MustCompile(`\[\[[^\[\]]*\]\]`)
)

// Linker rewrites mentions of known note titles as [[wiki links]]. The
// title set is loaded from the vault at startup; Add extends it as notes
// are created.
type Linker struct {
	mu       sync.RWMutex
	concepts map[string]struct{}
}

// NewLinker returns a Linker over titles.
func NewLinker(titles []string) *Linker {
	l := &Linker{}
	l.Rebuild(titles)
	return l
}

// Rebuild replaces the title set.
func (l *Linker) Rebuild(titles []string) {
	set := make(map[string]struct{}, len(titles))
	for _, t := range titles {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	l.mu.Lock()
	l.concepts = set
	l.mu.Unlock()
}

// Add registers one more title.
func (l *Linker) Add(title string) {
	if title == "" {
		return
	}
	l.mu.Lock()
	l.concepts[title] = struct{}{}
	l.mu.Unlock()
}

// Len returns the number of known titles.
func (l *Linker) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.concepts)
}

// Concepts returns the known titles mentioned in text, longest first.
func (l *Linker) Concepts(text string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[string]bool)
	var found []string
	for _, re := range []*regexp.Regexp{multiConcept, singleConcept} {
		for _, m := range re.FindAllString(text, -1) {
			if seen[m] {
				continue
			}
			seen[m] = true
			if _, ok := l.concepts[m]; ok {
				found = append(found, m)
			}
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		if len(found[i]) != len(found[j]) {
			return len(found[i]) > len(found[j])
		}
		return found[i] < found[j]
	})
	return found
}

// Link wraps whole-word mentions of known titles in [[ ]]. Longer titles
// are applied first and text already inside a link is left alone, so
// Link(Link(s)) == Link(s).
func (l *Linker) Link(text string) string {
	for _, c := range l.Concepts(text) {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(c) + `\b`)
		text = replaceOutsideLinks(text, re, "[["+c+"]]")
	}
	return text
}

func replaceOutsideLinks(text string, re *regexp.Regexp, repl string) string {
	spans := existingLink.FindAllStringIndex(text, -1)
	if len(spans) == 0 {
		return re.ReplaceAllLiteralString(text, repl)
	}
	var out []byte
	prev := 0
	for _, sp := range spans {
		out = append(out, re.ReplaceAllLiteralString(text[prev:sp[0]], repl)...)
		out = append(out, text[sp[0]:sp[1]]...)
		prev = sp[1]
	}
	out = append(out, re.ReplaceAllLiteralString(text[prev:], repl)...)
	return string(out)
}
