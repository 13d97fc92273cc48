// ABOUTME: Tests for dialogue tree loading and validation
// ABOUTME: YAML round trip, missing welcome, dangling references and dead ends

package bot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTreeYAML = `
welcome:
  prompt: "Hi! Choose:"
  options:
    - id: "1"
      label: "Book"
      emoji: "📅"
      next: booking
      response: "Sure."
      department: sales
booking:
  prompt: "Send your dates:"
  requires_input: true
  next: done
done:
  prompt: "Got it: {booking_details}"
  options:
    - id: "0"
      label: "Finish"
      next: welcome
`

func writeTree(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tree.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTree(t *testing.T) {
	tree, err := LoadTree(writeTree(t, sampleTreeYAML))
	require.NoError(t, err)
	require.Len(t, tree, 3)

	welcome := tree["welcome"]
	require.NotNil(t, welcome)
	assert.Equal(t, "welcome", welcome.ID)
	require.Len(t, welcome.Options, 1)
	assert.Equal(t, "booking", welcome.Options[0].NextNodeID)
	assert.Equal(t, "Sure.", welcome.Options[0].ResponseText)
	assert.Equal(t, "sales", welcome.Options[0].Department)

	booking := tree["booking"]
	require.NotNil(t, booking)
	assert.True(t, booking.RequiresInput)
	assert.Equal(t, "done", booking.NextNodeID)

	assert.Empty(t, tree.Validate())
}

func TestLoadTree_MissingWelcome(t *testing.T) {
	_, err := LoadTree(writeTree(t, "other:\n  prompt: hi\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "welcome")
}

func TestLoadTree_MissingFile(t *testing.T) {
	_, err := LoadTree(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadTree_BadYAML(t *testing.T) {
	_, err := LoadTree(writeTree(t, "welcome: [not a node"))
	require.Error(t, err)
}

func TestValidate_ReportsDanglingReferences(t *testing.T) {
	tree := Tree{
		"welcome": {
			ID:     "welcome",
			Prompt: "hi",
			Options: []Option{
				{ID: "1", Label: "x", NextNodeID: "gone"},
			},
		},
		"ask": {
			ID:            "ask",
			Prompt:        "tell me",
			RequiresInput: true,
			NextNodeID:    "also_gone",
		},
		"stuck": {
			ID:     "stuck",
			Prompt: "no way out",
		},
	}

	warnings := tree.Validate()
	assert.Len(t, warnings, 3)
}

func TestBuiltinTreeIsClean(t *testing.T) {
	tree := BuiltinTree()
	assert.Empty(t, tree.Validate())
	require.Contains(t, tree, WelcomeNodeID)
	for id, node := range tree {
		assert.Equal(t, id, node.ID)
	}
}
