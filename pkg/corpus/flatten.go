package corpus

import "strings"

// flatten derives the searchable index from the tree. Leaves contribute
// their content reference; interior sections with a description
// contribute the description, so both kinds of text are matchable.
func flatten(node *Node, path []string) []FlatEntry {
	var entries []FlatEntry

	if len(path) > 0 {
		if node.IsLeaf() {
			text := node.Content
			if text == "" {
				text = node.Description
			}
			entries = append(entries, newEntry(path, text))
		} else if node.Description != "" {
			entries = append(entries, newEntry(path, node.Description))
		}
	}

	for _, key := range node.VisibleKeys() {
		childPath := append(append([]string(nil), path...), key)
		entries = append(entries, flatten(node.Children[key], childPath)...)
	}
	return entries
}

func newEntry(path []string, text string) FlatEntry {
	return FlatEntry{
		Path:     append([]string(nil), path...),
		Category: strings.Join(path, " > "),
		Text:     text,
	}
}
