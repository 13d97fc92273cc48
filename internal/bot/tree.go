// ABOUTME: Dialogue tree types, YAML loading and validation
// ABOUTME: The tree is a directed graph of question nodes; cycles back to earlier nodes are expected

package bot

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// WelcomeNodeID is the entry node every conversation starts from and the
// fallback when a conversation references a node the current tree no
// longer has.
const WelcomeNodeID = "welcome"

// Option is one selectable answer on a menu node. ID is the exact token a
// user is expected to type ("1", "0", ...).
type Option struct {
	ID           string `yaml:"id"`
	Label        string `yaml:"label"`
	Emoji        string `yaml:"emoji,omitempty"`
	NextNodeID   string `yaml:"next,omitempty"`
	ResponseText string `yaml:"response,omitempty"`
	Department   string `yaml:"department,omitempty"`
}

// Node is one question in the dialogue tree. A node either presents
// Options, or requires free-text input and advances to NextNodeID once the
// user answers.
type Node struct {
	ID            string   `yaml:"-"`
	Prompt        string   `yaml:"prompt"`
	Options       []Option `yaml:"options,omitempty"`
	RequiresInput bool     `yaml:"requires_input,omitempty"`
	NextNodeID    string   `yaml:"next,omitempty"`
}

// Tree maps node id to node. Immutable once built; administrative edits
// swap in a whole new tree.
type Tree map[string]*Node

// LoadTree reads a dialogue tree from a YAML file keyed by node id.
func LoadTree(path string) (Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tree file: %w", err)
	}

	var raw map[string]*Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing tree file: %w", err)
	}

	tree := make(Tree, len(raw))
	for id, node := range raw {
		if node == nil {
			return nil, fmt.Errorf("node %q is empty", id)
		}
		node.ID = id
		tree[id] = node
	}

	if _, ok := tree[WelcomeNodeID]; !ok {
		return nil, fmt.Errorf("tree has no %q node", WelcomeNodeID)
	}
	return tree, nil
}

// Validate reports authoring mistakes that the engine will degrade around
// at runtime: dangling node references and menu nodes without options.
// These are warnings, not errors, so a half-edited tree still serves.
func (t Tree) Validate() []string {
	var warnings []string

	for id, node := range t {
		if node.RequiresInput {
			if node.NextNodeID == "" {
				warnings = append(warnings, fmt.Sprintf("node %q requires input but has no next node", id))
			} else if _, ok := t[node.NextNodeID]; !ok {
				warnings = append(warnings, fmt.Sprintf("node %q references missing node %q", id, node.NextNodeID))
			}
			continue
		}
		if len(node.Options) == 0 {
			warnings = append(warnings, fmt.Sprintf("node %q has no options and no input", id))
		}
		for _, opt := range node.Options {
			if opt.NextNodeID == "" {
				continue
			}
			if _, ok := t[opt.NextNodeID]; !ok {
				warnings = append(warnings,
					fmt.Sprintf("node %q option %q references missing node %q", id, opt.ID, opt.NextNodeID))
			}
		}
	}
	return warnings
}

// digitKeycaps maps single-digit option ids to their keycap emoji, matching
// how the menus are written on the wire.
var digitKeycaps = map[string]string{
	"0": "0️⃣", "1": "1️⃣", "2": "2️⃣", "3": "3️⃣", "4": "4️⃣",
	"5": "5️⃣", "6": "6️⃣", "7": "7️⃣", "8": "8️⃣", "9": "9️⃣",
}

// renderMenu formats a menu node's options under its prompt the way the
// messaging network shows them: one numbered line per option plus the
// "send the option number" footer.
func renderMenu(node *Node) string {
	if len(node.Options) == 0 {
		return ""
	}

	var b strings.Builder
	for _, opt := range node.Options {
		b.WriteString("\n")
		if keycap, ok := digitKeycaps[opt.ID]; ok {
			b.WriteString(keycap)
		} else {
			b.WriteString(opt.ID + ")")
		}
		b.WriteString(" " + opt.Label)
		if opt.Emoji != "" {
			b.WriteString(" " + opt.Emoji)
		}
	}
	b.WriteString("\n\n*أرسل رقم الخيار*")
	return b.String()
}
