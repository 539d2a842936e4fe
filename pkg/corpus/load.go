// ABOUTME: Corpus loading from the nested JSON document file
// ABOUTME: Parses metadata keys, applies gating rules, derives the flat index

package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Options control corpus loading.
type Options struct {
	// GatedSections marks every node whose key matches one of these
	// names (case-insensitive) as requiring an entitlement, in addition
	// to any _gated flags present in the file itself.
	GatedSections []string
}

// LoadFile reads and parses a corpus JSON file.
func LoadFile(path string, opts Options) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus %s: %w", path, err)
	}
	return Load(data, opts)
}

// Load parses corpus JSON. The document is a nested object: string
// values are leaves (content references), objects are sections. The
// _description and _gated keys attach metadata to a section instead of
// declaring a child.
func Load(data []byte, opts Options) (*Tree, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing corpus: %w", err)
	}

	gated := make(map[string]bool, len(opts.GatedSections))
	for _, name := range opts.GatedSections {
		gated[strings.ToLower(name)] = true
	}

	root, err := parseNode(raw, gated)
	if err != nil {
		return nil, err
	}

	tree := &Tree{Root: root}
	tree.Index = flatten(root, nil)
	return tree, nil
}

func parseNode(raw map[string]json.RawMessage, gated map[string]bool) (*Node, error) {
	node := &Node{Children: make(map[string]*Node)}

	for key, val := range raw {
		switch {
		case key == keyDescription || key == keyDescriptionAlias:
			if err := json.Unmarshal(val, &node.Description); err != nil {
				return nil, fmt.Errorf("description of %q: %w", key, err)
			}
		case key == keyGated:
			if err := json.Unmarshal(val, &node.Gated); err != nil {
				return nil, fmt.Errorf("gated flag: %w", err)
			}
		case strings.HasPrefix(key, "_"):
			// Unknown metadata key, skipped.
		default:
			child, err := parseValue(val, gated)
			if err != nil {
				return nil, fmt.Errorf("section %q: %w", key, err)
			}
			if gated[strings.ToLower(key)] {
				child.Gated = true
			}
			node.Children[key] = child
		}
	}
	return node, nil
}

func parseValue(val json.RawMessage, gated map[string]bool) (*Node, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(val, &obj); err == nil {
		return parseNode(obj, gated)
	}

	var content string
	if err := json.Unmarshal(val, &content); err != nil {
		return nil, fmt.Errorf("expected object or string")
	}
	return &Node{Content: content}, nil
}
