// Package bot evaluates the guided dialogue that answers contacts before
// an agent picks the conversation up.
//
// A Tree is a directed graph of question nodes loaded from YAML (or the
// built-in travel-desk tree). Menu nodes present numbered options; input
// nodes collect one free-text answer and advance. Evaluate is a pure
// function of (tree, state, user text): it returns the replies to send
// and the next dialogue state, and the caller persists that state. Prompt
// placeholders like {booking_details} are resolved at emit time from the
// collected answers, never stored.
//
// The Engine wraps a tree snapshot behind a lock so an administrative
// SwapTree can replace it while conversations are in flight; a state that
// references a node the new tree no longer has falls back to the welcome
// menu.
package bot
