package ticketset

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/tambola-live/engine/internal/game"
)

// GenerateSet builds a deterministic ticket set of full sheets. Every sheet
// uses all 90 numbers exactly once across its six tickets, so sheet prizes
// are always playable. The same seed always yields the same set.
func GenerateSet(id string, sheets int, seed int64) Set {
	if sheets < 1 {
		sheets = 1
	}
	rng := rand.New(rand.NewSource(seed))
	tickets := make([]game.Ticket, 0, sheets*6)
	for s := 0; s < sheets; s++ {
		grids := generateSheet(rng)
		for pos, grid := range grids {
			tickets = append(tickets, game.Ticket{
				ID:        s*6 + pos + 1,
				Grid:      grid,
				Available: true,
			})
		}
	}
	return Set{ID: id, Tickets: tickets}
}

// columnSizes is how many of the 90 numbers fall in each grid column.
var columnSizes = [game.TicketCols]int{9, 10, 10, 10, 10, 10, 10, 10, 11}

// generateSheet produces six grids forming one sheet. It retries the
// randomized layout until both the column distribution and the row
// placement succeed; a handful of attempts is always enough in practice.
func generateSheet(rng *rand.Rand) [6][game.TicketRows][game.TicketCols]int {
	for {
		counts, ok := distributeColumns(rng)
		if !ok {
			continue
		}
		grids, ok := placeNumbers(rng, counts)
		if ok {
			return grids
		}
	}
}

// distributeColumns decides how many numbers of each column land on each of
// the six tickets. Every ticket gets one number per column as a base; the
// 36 leftover numbers are spread so each ticket ends with exactly 15 cells
// and no ticket column exceeds three.
func distributeColumns(rng *rand.Rand) ([6][game.TicketCols]int, bool) {
	var counts [6][game.TicketCols]int
	var quota [6]int
	for t := 0; t < 6; t++ {
		quota[t] = 6
		for c := 0; c < game.TicketCols; c++ {
			counts[t][c] = 1
		}
	}

	order := make([]int, game.TicketCols)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return columnSizes[order[i]] > columnSizes[order[j]]
	})

	for _, c := range order {
		for extra := columnSizes[c] - 6; extra > 0; extra-- {
			eligible := make([]int, 0, 6)
			best := 0
			for t := 0; t < 6; t++ {
				if quota[t] == 0 || counts[t][c] == 3 {
					continue
				}
				if quota[t] > best {
					best = quota[t]
					eligible = eligible[:0]
				}
				if quota[t] == best {
					eligible = append(eligible, t)
				}
			}
			if len(eligible) == 0 {
				return counts, false
			}
			t := eligible[rng.Intn(len(eligible))]
			counts[t][c]++
			quota[t]--
		}
	}
	return counts, true
}

// placeNumbers turns per-column counts into grids: rows are chosen so every
// row carries five numbers, and each column's numbers run ascending downward.
func placeNumbers(rng *rand.Rand, counts [6][game.TicketCols]int) ([6][game.TicketRows][game.TicketCols]int, bool) {
	var grids [6][game.TicketRows][game.TicketCols]int

	rowsByTicket := make([][game.TicketCols][]int, 6)
	for t := 0; t < 6; t++ {
		rows, ok := chooseRows(counts[t])
		if !ok {
			return grids, false
		}
		rowsByTicket[t] = rows
	}

	for c := 0; c < game.TicketCols; c++ {
		low, high := columnRange(c)
		pool := make([]int, 0, high-low+1)
		for n := low; n <= high; n++ {
			pool = append(pool, n)
		}
		rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

		next := 0
		for t := 0; t < 6; t++ {
			share := pool[next : next+counts[t][c]]
			next += counts[t][c]
			sorted := append([]int(nil), share...)
			sort.Ints(sorted)
			for i, row := range rowsByTicket[t][c] {
				grids[t][row][c] = sorted[i]
			}
		}
	}
	return grids, true
}

// chooseRows assigns each column's cells to rows so that every row ends with
// exactly five numbers. Columns with more cells are fixed first; the rest go
// to whichever rows still have the most room.
func chooseRows(counts [game.TicketCols]int) ([game.TicketCols][]int, bool) {
	var rows [game.TicketCols][]int
	cap := [game.TicketRows]int{5, 5, 5}

	order := make([]int, game.TicketCols)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		if counts[order[i]] != counts[order[j]] {
			return counts[order[i]] > counts[order[j]]
		}
		return order[i] < order[j]
	})

	for _, c := range order {
		need := counts[c]
		picked := make([]int, 0, need)
		for k := 0; k < need; k++ {
			best := -1
			for r := 0; r < game.TicketRows; r++ {
				if contains(picked, r) || cap[r] == 0 {
					continue
				}
				if best == -1 || cap[r] > cap[best] {
					best = r
				}
			}
			if best == -1 {
				return rows, false
			}
			picked = append(picked, best)
			cap[best]--
		}
		sort.Ints(picked)
		rows[c] = picked
	}

	for r := 0; r < game.TicketRows; r++ {
		if cap[r] != 0 {
			return rows, false
		}
	}
	return rows, true
}

func contains(list []int, v int) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// MustGenerateValid is a development helper that panics if the generator
// ever emits an invalid grid. Used by tests.
func MustGenerateValid(id string, sheets int, seed int64) Set {
	set := GenerateSet(id, sheets, seed)
	for _, t := range set.Tickets {
		if err := Validate(t); err != nil {
			panic(fmt.Sprintf("generated invalid ticket: %v", err))
		}
	}
	return set
}
