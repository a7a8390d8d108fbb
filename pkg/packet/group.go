package packet

import (
	"fmt"
	"sort"
	"strings"
)

// GroupKey identifies a (turn, branch) group
type GroupKey struct {
	Turn   int
	Branch int
}

// String renders the key as "turn-branch"
func (k GroupKey) String() string {
	return fmt.Sprintf("%d-%d", k.Turn, k.Branch)
}

// Group holds all packets sharing one (turn, branch) placement, in arrival
// order. Groups are derived values and are rebuilt from the full packet list.
type Group struct {
	TurnIndex   int
	BranchIndex int
	Packets     []Packet
}

// Key returns the group's key
func (g Group) Key() GroupKey {
	return GroupKey{Turn: g.TurnIndex, Branch: g.BranchIndex}
}

// Complete reports whether the group has been structurally closed
func (g Group) Complete() bool {
	for _, p := range g.Packets {
		if IsSectionEnd(p) {
			return true
		}
	}
	return false
}

// Families returns the distinct content families present, ignoring control
// and citation packets which may accompany any family.
func (g Group) Families() []Family {
	seen := map[Family]bool{}
	var out []Family
	for _, p := range g.Packets {
		f := p.Family()
		if f == FamilyControl || f == FamilyCitation || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// Has reports whether any packet in the group satisfies pred
func (g Group) Has(pred func(Packet) bool) bool {
	for _, p := range g.Packets {
		if pred(p) {
			return true
		}
	}
	return false
}

// ValidateGroup checks that a group carries a single content family
func ValidateGroup(g Group) error {
	families := g.Families()
	if len(families) <= 1 {
		return nil
	}
	names := make([]string, len(families))
	for i, f := range families {
		names[i] = f.String()
	}
	return fmt.Errorf("group %s mixes packet families: %s", g.Key(), strings.Join(names, ", "))
}

// GroupByTurnAndBranch groups packets by placement in a single pass. Output
// is ordered by turn then branch; packets inside a group keep arrival order.
func GroupByTurnAndBranch(packets []Packet) []Group {
	index := make(map[GroupKey]int)
	var groups []Group

	for _, p := range packets {
		key := GroupKey{Turn: p.Placement.TurnIndex, Branch: p.Placement.BranchIndex}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{TurnIndex: key.Turn, BranchIndex: key.Branch})
		}
		groups[i].Packets = append(groups[i].Packets, p)
	}

	sort.SliceStable(groups, func(a, b int) bool {
		if groups[a].TurnIndex != groups[b].TurnIndex {
			return groups[a].TurnIndex < groups[b].TurnIndex
		}
		return groups[a].BranchIndex < groups[b].BranchIndex
	})
	return groups
}

// ExpectedBranches collects top_level_branching declarations keyed by the
// turn they announce.
func ExpectedBranches(packets []Packet) map[int]int {
	expected := map[int]int{}
	for _, p := range packets {
		if tb, ok := p.Obj.(TopLevelBranching); ok {
			expected[p.Placement.TurnIndex] = tb.NumParallelBranches
		}
	}
	return expected
}
