// ABOUTME: Tests for synonym expansion and index search
// ABOUTME: Verifies symmetry, labeling, truncation, and empty results

package search

import (
	"reflect"
	"testing"

	"github.com/mechdocs/docgate/pkg/corpus"
)

func testIndex(t *testing.T) []corpus.FlatEntry {
	t.Helper()
	tree, err := corpus.Load([]byte(`{
		"Двигатели": {
			"CFM56-7B": {
				"Проверка masterchip": "documents/cfm56-7b-check.pdf",
				"Заправка маслом": "documents/cfm56-7b-oil.pdf"
			},
			"PW1100G": {
				"Контроль вибраций": "documents/pw1100g-vib.pdf"
			}
		},
		"Шасси": {
			"Очистка стоек": "documents/gear-wash.pdf"
		}
	}`), corpus.Options{})
	if err != nil {
		t.Fatalf("Failed to load corpus: %v", err)
	}
	return tree.Index
}

func TestSynonymSymmetry(t *testing.T) {
	e := NewEngine(testIndex(t), nil)

	a := e.Search("проверка")
	b := e.Search("диагностика")
	c := e.Search("контроль")

	if len(a) == 0 {
		t.Fatalf("Expected matches for synonym class")
	}
	if !reflect.DeepEqual(a, b) || !reflect.DeepEqual(b, c) {
		t.Fatalf("Synonym expansion must be symmetric:\n%v\n%v\n%v", a, b, c)
	}
}

func TestLabelAndTruncation(t *testing.T) {
	e := NewEngine(testIndex(t), nil)

	results := e.Search("masterchip")
	path, ok := results["CFM56-7B"]
	if !ok {
		t.Fatalf("Expected label from second path segment, got %v", results)
	}
	if !reflect.DeepEqual(path, []string{"Двигатели", "CFM56-7B"}) {
		t.Fatalf("Expected path truncated to two segments, got %v", path)
	}
}

func TestTopLevelLabel(t *testing.T) {
	e := NewEngine([]corpus.FlatEntry{
		{Path: []string{"Общие"}, Category: "Общие", Text: "регламент осмотра"},
	}, nil)

	results := e.Search("регламент")
	if _, ok := results["Общие"]; !ok {
		t.Fatalf("Expected first segment as label for top-level entry, got %v", results)
	}
}

func TestCaseInsensitiveQuery(t *testing.T) {
	e := NewEngine(testIndex(t), nil)

	if len(e.Search("  ОЧИСТКА  ")) == 0 {
		t.Fatalf("Expected case- and whitespace-insensitive matching")
	}
}

func TestNoMatch(t *testing.T) {
	e := NewEngine(testIndex(t), nil)

	if results := e.Search("гидравлика"); len(results) != 0 {
		t.Fatalf("Expected empty result set, got %v", results)
	}
}

func TestCustomSynonyms(t *testing.T) {
	syn := Synonyms{"осмотр": {"инспекция"}}
	e := NewEngine([]corpus.FlatEntry{
		{Path: []string{"Планер", "Осмотр обшивки"}, Category: "Планер > Осмотр обшивки", Text: "doc.pdf"},
	}, syn)

	if len(e.Search("инспекция")) != 1 {
		t.Fatalf("Expected custom synonym class to apply")
	}
}
