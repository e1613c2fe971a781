package importance

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category buckets importance records in the ledger.
type Category string

const (
	Personal    Category = "personal"
	Preferences Category = "preferences"
	Events      Category = "events"
	Other       Category = "other"
)

// Categories lists the ledger buckets in display order.
var Categories = []Category{Personal, Preferences, Events, Other}

// Pattern extracts one field from a message. The first capture group is
// the value; without a group the whole match is used. Category says which
// bucket a match votes for and defaults to personal.
type Pattern struct {
	Field    string   `yaml:"field"`
	Regex    string   `yaml:"regex"`
	Category Category `yaml:"category,omitempty"`
}

// Rules is the classifier configuration.
type Rules struct {
	Keywords      map[Category][]string `yaml:"keywords"`
	Patterns      []Pattern             `yaml:"patterns"`
	MinSimilarity float64               `yaml:"min_similarity"`
}

// DefaultRules returns the built-in keyword and pattern tables.
func DefaultRules() Rules {
	return Rules{
		Keywords: map[Category][]string{
			Personal: {
				"name", "birthday", "born", "age", "family", "mother", "father", "sister",
				"brother", "wife", "husband", "daughter", "son", "children", "kids", "pet",
				"dog", "cat", "address", "email", "phone", "live", "hometown", "allergic",
				"allergy", "health", "married",
			},
			Preferences: {
				"love", "like", "hate", "prefer", "favorite", "favourite", "enjoy", "dislike",
				"passion", "hobby", "hobbies", "fan of",
			},
			Events: {
				"meeting", "appointment", "schedule", "deadline", "tomorrow", "tonight",
				"next week", "anniversary", "vacation", "trip", "flight", "reminder", "remind",
				"calendar", "wedding", "party", "interview",
			},
			Other: {
				"bank", "salary", "budget", "loan", "mortgage", "rent", "invest", "investment",
				"savings", "debt", "credit card", "tax", "job", "work", "career", "company",
				"boss", "manager", "project", "promotion", "office", "colleague", "degree",
				"university", "school",
			},
		},
		Patterns: []Pattern{
			{Field: "name", Regex: `(?i:\bmy name is) ([A-Z][\w'-]*(?: [A-Z][\w'-]*)?)`},
			{Field: "name", Regex: `(?i:\bcall me) ([A-Z][\w'-]*)`},
			{Field: "name", Regex: `\b(?:I am|I'm) ([A-Z][a-z]+)\b`},
			{Field: "name", Regex: `(?i)\bmy name is (\S+)`},
			{Field: "birthday", Regex: `(?i)\bmy birthday is (?:on )?([^.!?\n]+)`},
			{Field: "birthday", Regex: `(?i)\bI was born on ([^.!?\n]+)`},
			{Field: "email", Regex: `([A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,})`},
			{Field: "phone", Regex: `(?i:\b(?:phone|cell|mobile|number)(?: number)?(?: is|:)|\b(?:call|text|reach) me at) (\+?[\d(][\d\s().-]{5,}\d)`},
			{Field: "phone", Regex: `(\+\d[\d\s().-]{8,}\d)`},
			{Field: "location", Regex: `(?i:\bI live in|\bI'm from|\bI am from|\bI moved to) ([A-Z][\w'-]*(?:,? [A-Z][\w'-]*)*)`},
			{Field: "job", Regex: `(?i)\b(?:I work as an?|I work at|I work for|my job is|I'm employed as an?) ([^.!?,\n]+)`},
			{Field: "preference", Regex: `(?i)\bI (?:really )?(?:love|like|enjoy|prefer|hate) ([^.!?\n]+)`, Category: Preferences},
		},
		MinSimilarity: 0.3,
	}
}

// LoadRules reads a YAML rules file on top of DefaultRules. A category
// listed under keywords replaces that category's defaults; a non-empty
// patterns list replaces the default patterns.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("reading rules file: %w", err)
	}

	var file struct {
		Keywords      map[Category][]string `yaml:"keywords"`
		Patterns      []Pattern             `yaml:"patterns"`
		MinSimilarity *float64              `yaml:"min_similarity"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Rules{}, fmt.Errorf("parsing rules file %s: %w", path, err)
	}
	for cat, words := range file.Keywords {
		rules.Keywords[cat] = words
	}
	if len(file.Patterns) > 0 {
		rules.Patterns = file.Patterns
	}
	if file.MinSimilarity != nil {
		rules.MinSimilarity = *file.MinSimilarity
	}
	return rules, nil
}

type compiledPattern struct {
	field    string
	category Category
	re       *regexp.Regexp
}

type compiledRules struct {
	keywords map[Category][]*regexp.Regexp
	patterns []compiledPattern
}

func compile(r Rules) (*compiledRules, error) {
	c := &compiledRules{keywords: make(map[Category][]*regexp.Regexp)}
	for cat, words := range r.Keywords {
		for _, w := range words {
			w = strings.TrimSpace(w)
			if w == "" {
				continue
			}
			c.keywords[cat] = append(c.keywords[cat], regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(w)+`\b`))
		}
	}
	for _, p := range r.Patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("pattern for %s: %w", p.Field, err)
		}
		cat := p.Category
		if cat == "" {
			cat = Personal
		}
		c.patterns = append(c.patterns, compiledPattern{field: p.Field, category: cat, re: re})
	}
	return c, nil
}

func (c *compiledRules) hasKeyword(cat Category, text string) bool {
	for _, re := range c.keywords[cat] {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
