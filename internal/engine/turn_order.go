package engine

import "math/rand/v2"

// NextPicker returns the index of the participant that picks next, given
// the picking flags in roster order. The successor of the current picker
// wraps to the first participant; with no current picker the first one
// picks. Returns -1 for an empty roster.
func NextPicker(picking []bool) int {
	if len(picking) == 0 {
		return -1
	}
	for i, p := range picking {
		if p {
			return (i + 1) % len(picking)
		}
	}
	return 0
}

// PreviousIndex is the roster index before i, wrapping to the end.
func PreviousIndex(i, n int) int {
	if n == 0 {
		return -1
	}
	return (i - 1 + n) % n
}

// ShuffledOrder returns a random permutation of 1..n used as display
// order keys for played sets.
func ShuffledOrder(n int, rng *rand.Rand) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i + 1
	}
	shuffle := rand.Shuffle
	if rng != nil {
		shuffle = rng.Shuffle
	}
	shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order
}

// ToggleChoice flips the choice state of slots[idx] in place. Choosing
// takes the next free slot while fewer than allowance cards are chosen.
// Un-choosing a card also un-chooses every card in a later slot so the
// occupied slots always stay 0..k-1. Reports whether anything changed.
func ToggleChoice(slots []*int, idx, allowance int) bool {
	if idx < 0 || idx >= len(slots) {
		return false
	}

	if cur := slots[idx]; cur != nil {
		from := *cur
		for i, s := range slots {
			if s != nil && *s >= from {
				slots[i] = nil
			}
		}
		return true
	}

	chosen := 0
	for _, s := range slots {
		if s != nil {
			chosen++
		}
	}
	if chosen >= allowance {
		return false
	}
	next := chosen
	slots[idx] = &next
	return true
}

// ChosenCount counts the occupied slots.
func ChosenCount(slots []*int) int {
	n := 0
	for _, s := range slots {
		if s != nil {
			n++
		}
	}
	return n
}
