// ABOUTME: Synonym-expanded substring search over the flat corpus index
// ABOUTME: Produces a label -> path mapping for a selection menu

package search

import (
	"strings"

	"github.com/mechdocs/docgate/pkg/corpus"
)

// Synonyms maps a class head term to its synonyms. Expansion is
// symmetric: a query matching any member of a class expands to the
// whole class.
type Synonyms map[string][]string

// DefaultSynonyms returns the built-in synonym classes used when no
// rules file overrides them.
func DefaultSynonyms() Synonyms {
	return Synonyms{
		"заправка": {"зарядка", "дозаправка"},
		"проверка": {"контроль", "диагностика", "испытание"},
		"очистка":  {"чистка", "мойка"},
		"демонтаж": {"монтаж", "замена", "снятие", "установка"},
	}
}

// Expand normalizes query and returns the full term set it stands for.
func (s Synonyms) Expand(query string) map[string]struct{} {
	query = strings.ToLower(strings.TrimSpace(query))
	terms := map[string]struct{}{query: {}}

	for head, members := range s {
		inClass := query == head
		for _, m := range members {
			if query == m {
				inClass = true
				break
			}
		}
		if !inClass {
			continue
		}
		terms[head] = struct{}{}
		for _, m := range members {
			terms[m] = struct{}{}
		}
	}
	return terms
}

// Engine scans the flat corpus index for entries matching an expanded
// query.
type Engine struct {
	index []corpus.FlatEntry
	syn   Synonyms
}

// NewEngine creates a search engine over the given index. A nil synonym
// table falls back to the defaults.
func NewEngine(index []corpus.FlatEntry, syn Synonyms) *Engine {
	if syn == nil {
		syn = DefaultSynonyms()
	}
	return &Engine{index: index, syn: syn}
}

// Search selects entries whose category path or content text contain
// any expansion term as a substring. The result key is the second path
// segment when present (else the first); the stored path is truncated
// to its first two segments, which deduplicates deeper matches into the
// section that holds them.
func (e *Engine) Search(query string) map[string][]string {
	terms := e.syn.Expand(query)
	results := make(map[string][]string)

	for _, entry := range e.index {
		text := strings.ToLower(entry.Category + " " + entry.Text)
		if !matchesAny(text, terms) {
			continue
		}

		label := entry.Path[0]
		if len(entry.Path) > 1 {
			label = entry.Path[1]
		}
		n := len(entry.Path)
		if n > 2 {
			n = 2
		}
		results[label] = append([]string(nil), entry.Path[:n]...)
	}
	return results
}

func matchesAny(text string, terms map[string]struct{}) bool {
	for term := range terms {
		if term != "" && strings.Contains(text, term) {
			return true
		}
	}
	return false
}
