package mods

import (
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Compare defines the canonical total order over mods, used everywhere
// a processing sequence is needed (loading monkeys, shutting down):
//
//  1. Game packs sort before regular mods.
//  2. Within a pack class, a mod that transitively depends on another
//     (which does not depend back) sorts after it.
//  3. Independent mods and true cycles fall back to lexicographic id,
//     so the order is strict and total even though the dependency
//     relation is only partial.
func Compare(a, b *Mod, r Resolver) int {
	if a.IsGamePack() != b.IsGamePack() {
		if a.IsGamePack() {
			return -1
		}
		return 1
	}

	aOnB := DependsOn(a, b.ID(), r)
	bOnA := DependsOn(b, a.ID(), r)
	switch {
	case aOnB && !bOnA:
		return 1
	case bOnA && !aOnB:
		return -1
	}
	return strings.Compare(a.ID(), b.ID())
}

// DependsOn reports whether m depends on the target package id,
// directly or through its resolved dependency chain. The walk carries
// an explicit visited set, so cyclic declarations terminate.
func DependsOn(m *Mod, targetID string, r Resolver) bool {
	if m.ID() == targetID {
		return false
	}

	visited := mapset.NewThreadUnsafeSet[string]()
	stack := []*Mod{m}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for id, ref := range cur.Dependencies() {
			if id == targetID {
				return true
			}
			if !visited.Add(id) {
				continue
			}
			if ref.TryResolve(r) {
				stack = append(stack, ref.Target())
			}
		}
	}
	return false
}

// SortMods orders mods in place under the canonical total order.
func SortMods(list []*Mod, r Resolver) {
	sort.SliceStable(list, func(i, j int) bool {
		return Compare(list[i], list[j], r) < 0
	})
}
