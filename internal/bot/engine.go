// ABOUTME: Pure dialogue evaluation over a tree snapshot
// ABOUTME: Consumes one inbound user text, emits bot replies and the next dialogue state

package bot

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// State is the mutable per-conversation dialogue position. A nil State
// means the contact has never been greeted.
type State struct {
	CurrentNodeID    string
	CollectedAnswers map[string]string
}

// Result is what one evaluation produced. Replies are emitted in order;
// the caller persists State (and Department, when set) before or alongside
// sending them.
type Result struct {
	Replies    []string
	State      State
	Department string
}

// Engine holds the current tree snapshot. Evaluation itself is a pure
// function of (state, userText, snapshot); the engine only adds the swap
// point for administrative tree updates.
type Engine struct {
	mu     sync.RWMutex
	tree   Tree
	logger *slog.Logger
}

// NewEngine creates an engine over the given tree. Pass nil logger for
// default.
func NewEngine(tree Tree, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		tree:   tree,
		logger: logger.With("component", "bot"),
	}
	for _, warning := range tree.Validate() {
		e.logger.Warn("dialogue tree issue", "detail", warning)
	}
	return e
}

// SwapTree replaces the tree for subsequent evaluations. In-flight
// conversations resolve against whatever snapshot is current; node ids are
// plain string keys so no migration is needed.
func (e *Engine) SwapTree(tree Tree) {
	e.mu.Lock()
	e.tree = tree
	e.mu.Unlock()

	e.logger.Info("dialogue tree swapped", "nodes", len(tree))
	for _, warning := range tree.Validate() {
		e.logger.Warn("dialogue tree issue", "detail", warning)
	}
}

// Tree returns the current snapshot.
func (e *Engine) Tree() Tree {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tree
}

// Evaluate runs one dialogue step against the current snapshot.
func (e *Engine) Evaluate(st *State, userText string) Result {
	return Evaluate(e.Tree(), st, userText)
}

// Evaluate consumes one inbound user text. Pure: no I/O, no hidden state;
// identical (tree, state, text) always produce identical results.
func Evaluate(tree Tree, st *State, userText string) Result {
	// First-ever contact: greet and consume no input.
	if st == nil || st.CurrentNodeID == "" {
		welcome, ok := tree[WelcomeNodeID]
		if !ok {
			return Result{State: cloneState(st)}
		}
		return Result{
			Replies: []string{renderNode(welcome, nil)},
			State: State{
				CurrentNodeID:    WelcomeNodeID,
				CollectedAnswers: map[string]string{},
			},
		}
	}

	node, ok := tree[st.CurrentNodeID]
	if !ok {
		// Tree swapped out from under the conversation; fall back to
		// the welcome menu.
		node, ok = tree[WelcomeNodeID]
		if !ok {
			return Result{State: cloneState(st)}
		}
	}

	if node.RequiresInput {
		return evaluateInput(tree, node, st, userText)
	}
	return evaluateMenu(tree, node, st, userText)
}

// evaluateInput records the free-text answer and advances to the node's
// follow-up, resolving placeholders at emit time.
func evaluateInput(tree Tree, node *Node, st *State, userText string) Result {
	next := State{
		CurrentNodeID:    node.ID,
		CollectedAnswers: copyAnswers(st.CollectedAnswers),
	}
	next.CollectedAnswers[node.ID] = userText

	target, ok := tree[node.NextNodeID]
	if !ok {
		// Malformed tree: keep the answer, re-ask rather than crash.
		return Result{
			Replies: []string{renderNode(node, next.CollectedAnswers)},
			State:   next,
		}
	}

	next.CurrentNodeID = target.ID
	return Result{
		Replies: []string{renderNode(target, next.CollectedAnswers)},
		State:   next,
	}
}

// evaluateMenu matches the trimmed input against the node's option tokens.
func evaluateMenu(tree Tree, node *Node, st *State, userText string) Result {
	input := strings.TrimSpace(userText)

	var match *Option
	for i := range node.Options {
		if node.Options[i].ID == input {
			match = &node.Options[i]
			break
		}
	}

	if match == nil {
		// Didn't understand: re-show the prompt, state unchanged.
		return Result{
			Replies: []string{renderNode(node, st.CollectedAnswers)},
			State:   cloneState(st),
		}
	}

	res := Result{
		State:      cloneState(st),
		Department: match.Department,
	}
	if match.ResponseText != "" {
		res.Replies = append(res.Replies, match.ResponseText)
	}
	if match.NextNodeID != "" {
		target, ok := tree[match.NextNodeID]
		if !ok {
			// Malformed reference: re-show the current menu instead.
			res.Replies = []string{renderNode(node, st.CollectedAnswers)}
			return res
		}
		res.State.CurrentNodeID = target.ID
		res.Replies = append(res.Replies, renderNode(target, res.State.CollectedAnswers))
	}
	return res
}

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// renderNode resolves placeholders in the node's prompt and appends the
// option menu. Unknown tokens are left intact so a tree-authoring mistake
// degrades visibly instead of breaking the conversation.
func renderNode(node *Node, answers map[string]string) string {
	text := placeholderRe.ReplaceAllStringFunc(node.Prompt, func(token string) string {
		switch token {
		case "{booking_details}":
			return formatAnswers(answers)
		case "{complaint_number}":
			return referenceNumber(node.ID, answers)
		default:
			return token
		}
	})
	return text + renderMenu(node)
}

// formatAnswers renders all collected answers as "key: value" lines,
// sorted for stable output.
func formatAnswers(answers map[string]string) string {
	if len(answers) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+": "+answers[k])
	}
	return strings.Join(lines, "\n")
}

// referenceNumber derives a stable four-digit reference from the node and
// the collected answers. Computed at emit time, never stored.
func referenceNumber(nodeID string, answers map[string]string) string {
	h := fnv.New32a()
	h.Write([]byte(nodeID))
	h.Write([]byte(formatAnswers(answers)))
	return fmt.Sprintf("%04d", h.Sum32()%10000)
}

func copyAnswers(answers map[string]string) map[string]string {
	out := make(map[string]string, len(answers))
	for k, v := range answers {
		out[k] = v
	}
	return out
}

func cloneState(st *State) State {
	if st == nil {
		return State{CollectedAnswers: map[string]string{}}
	}
	return State{
		CurrentNodeID:    st.CurrentNodeID,
		CollectedAnswers: copyAnswers(st.CollectedAnswers),
	}
}
