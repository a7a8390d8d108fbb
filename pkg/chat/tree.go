package chat

import (
	"fmt"
	"sort"

	"github.com/killallgit/chatstream/pkg/logger"
)

// Tree is an immutable snapshot of a session's message graph. Every
// operation returns a new Tree and leaves its input untouched; unchanged
// nodes are shared between snapshots.
type Tree struct {
	nodes map[int]Message
}

// NewTree creates a tree holding only the system root
func NewTree() Tree {
	return Tree{nodes: map[int]Message{SystemNodeID: NewSystemRoot()}}
}

func (t Tree) copyNodes() map[int]Message {
	nodes := make(map[int]Message, len(t.nodes)+2)
	for id, m := range t.nodes {
		nodes[id] = m
	}
	return nodes
}

// Get returns a copy of the node with id
func (t Tree) Get(id int) (Message, bool) {
	m, ok := t.nodes[id]
	if !ok {
		return Message{}, false
	}
	return m.clone(), true
}

// Has reports whether id is in the tree
func (t Tree) Has(id int) bool {
	_, ok := t.nodes[id]
	return ok
}

// Len returns the number of nodes including the root
func (t Tree) Len() int {
	return len(t.nodes)
}

// Children returns the children of id in insertion order
func (t Tree) Children(id int) []Message {
	parent, ok := t.nodes[id]
	if !ok {
		return nil
	}
	out := make([]Message, 0, len(parent.ChildrenNodeIDs))
	for _, cid := range parent.ChildrenNodeIDs {
		if c, ok := t.nodes[cid]; ok {
			out = append(out, c.clone())
		}
	}
	return out
}

// Siblings returns the ids of every child of id's parent, id included
func (t Tree) Siblings(id int) []int {
	m, ok := t.nodes[id]
	if !ok || m.ParentNodeID == nil {
		return nil
	}
	parent, ok := t.nodes[*m.ParentNodeID]
	if !ok {
		return nil
	}
	return append([]int(nil), parent.ChildrenNodeIDs...)
}

// Messages returns every node ordered by id
func (t Tree) Messages() []Message {
	out := make([]Message, 0, len(t.nodes))
	for _, m := range t.nodes {
		out = append(out, m.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// MaxNodeID returns the largest id in the tree, SystemNodeID when only the
// root exists.
func (t Tree) MaxNodeID() int {
	max := SystemNodeID
	for id := range t.nodes {
		if id > max {
			max = id
		}
	}
	return max
}

// UpsertMessages inserts or replaces msgs by node id and links each one to
// its parent. A child becomes its parent's latest child when makeLatestChild
// is set or the parent had none. Messages whose parent is unknown are
// dropped. Upserting the same messages twice is a no-op the second time.
func UpsertMessages(t Tree, msgs []Message, makeLatestChild bool) Tree {
	if t.nodes == nil {
		t = NewTree()
	}
	nodes := t.copyNodes()

	for _, m := range msgs {
		m = m.clone()
		if m.NodeID != SystemNodeID && m.ParentNodeID == nil {
			m.ParentNodeID = IntPtr(SystemNodeID)
		}
		if existing, ok := nodes[m.NodeID]; ok {
			// patches carry content only; keep the graph links
			if len(m.ChildrenNodeIDs) == 0 {
				m.ChildrenNodeIDs = existing.ChildrenNodeIDs
			}
			if m.LatestChildNodeID == nil {
				m.LatestChildNodeID = existing.LatestChildNodeID
			}
		}
		nodes[m.NodeID] = m
	}

	log := logger.WithComponent("tree")
	for _, in := range msgs {
		m, ok := nodes[in.NodeID]
		if !ok || m.ParentNodeID == nil {
			continue
		}
		parent, ok := nodes[*m.ParentNodeID]
		if !ok {
			log.Warn("dropping message with unknown parent", "node", m.NodeID, "parent", *m.ParentNodeID)
			delete(nodes, m.NodeID)
			continue
		}

		linked := false
		for _, cid := range parent.ChildrenNodeIDs {
			if cid == m.NodeID {
				linked = true
				break
			}
		}
		needsLatest := parent.LatestChildNodeID == nil ||
			(makeLatestChild && *parent.LatestChildNodeID != m.NodeID)
		if linked && !needsLatest {
			continue
		}

		parent = parent.clone()
		if !linked {
			parent.ChildrenNodeIDs = append(parent.ChildrenNodeIDs, m.NodeID)
		}
		if needsLatest {
			parent.LatestChildNodeID = IntPtr(m.NodeID)
		}
		nodes[parent.NodeID] = parent
	}

	return Tree{nodes: nodes}
}

// LatestMessageChain walks from the root along latest-child links and
// returns the active conversation, root first.
func LatestMessageChain(t Tree) []Message {
	root, ok := t.nodes[SystemNodeID]
	if !ok {
		return nil
	}

	chain := []Message{root.clone()}
	seen := map[int]bool{SystemNodeID: true}
	cur := root
	for cur.LatestChildNodeID != nil {
		id := *cur.LatestChildNodeID
		next, ok := t.nodes[id]
		if !ok || seen[id] {
			break
		}
		seen[id] = true
		chain = append(chain, next.clone())
		cur = next
	}
	return chain
}

// LastSuccessfulMessageID returns the id of the newest non-error user or
// assistant message on the active chain, or SystemNodeID when none exists.
func LastSuccessfulMessageID(t Tree) int {
	chain := LatestMessageChain(t)
	for i := len(chain) - 1; i >= 0; i-- {
		m := chain[i]
		if m.IsUser() || m.IsAssistant() {
			return m.NodeID
		}
	}
	return SystemNodeID
}

// RemoveMessages removes ids and everything below them, then repairs the
// children and latest-child links of the surviving parents.
func RemoveMessages(t Tree, ids []int) Tree {
	nodes := t.copyNodes()

	doomed := map[int]bool{}
	stack := make([]int, 0, len(ids))
	for _, id := range ids {
		if id != SystemNodeID {
			stack = append(stack, id)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		m, ok := nodes[id]
		if !ok || doomed[id] {
			continue
		}
		doomed[id] = true
		stack = append(stack, m.ChildrenNodeIDs...)
	}
	if len(doomed) == 0 {
		return t
	}

	for id := range doomed {
		delete(nodes, id)
	}

	for id, m := range nodes {
		kept := m.ChildrenNodeIDs[:0:0]
		for _, cid := range m.ChildrenNodeIDs {
			if !doomed[cid] {
				kept = append(kept, cid)
			}
		}
		latestGone := m.LatestChildNodeID != nil && doomed[*m.LatestChildNodeID]
		if len(kept) == len(m.ChildrenNodeIDs) && !latestGone {
			continue
		}

		m = m.clone()
		m.ChildrenNodeIDs = kept
		if latestGone {
			m.LatestChildNodeID = nil
			if len(kept) > 0 {
				m.LatestChildNodeID = IntPtr(kept[len(kept)-1])
			}
		}
		nodes[id] = m
	}

	return Tree{nodes: nodes}
}

// PruneDanglingError removes an error node at the tip of the active chain
// and returns how many nodes were removed. Its parent goes with it when the
// error was the parent's only child; a parent that still holds another
// answer keeps it and switches back to it. Trees whose tip is not an error
// are returned unchanged.
func PruneDanglingError(t Tree) (Tree, int) {
	chain := LatestMessageChain(t)
	if len(chain) == 0 {
		return t, 0
	}
	tip := chain[len(chain)-1]
	if !tip.IsError() {
		return t, 0
	}

	target := []int{tip.NodeID}
	if tip.ParentNodeID != nil && *tip.ParentNodeID != SystemNodeID {
		if parent, ok := t.nodes[*tip.ParentNodeID]; ok && len(parent.ChildrenNodeIDs) == 1 {
			target = append(target, parent.NodeID)
		}
	}

	pruned := RemoveMessages(t, target)
	return pruned, t.Len() - pruned.Len()
}

// SetLatestChild switches parent's active branch to child
func SetLatestChild(t Tree, parent, child int) (Tree, error) {
	p, ok := t.nodes[parent]
	if !ok {
		return t, fmt.Errorf("message %d not found", parent)
	}
	found := false
	for _, cid := range p.ChildrenNodeIDs {
		if cid == child {
			found = true
			break
		}
	}
	if !found {
		return t, fmt.Errorf("message %d is not a child of %d", child, parent)
	}

	nodes := t.copyNodes()
	p = p.clone()
	p.LatestChildNodeID = IntPtr(child)
	nodes[parent] = p
	return Tree{nodes: nodes}, nil
}
