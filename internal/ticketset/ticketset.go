// Package ticketset loads and validates the 3x9 ticket grids a game sells.
// Sets come from YAML files or from the built-in generated classic-90 set.
package ticketset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tambola-live/engine/internal/game"
)

var (
	ErrEmptySet     = errors.New("ticket set has no tickets")
	ErrUnknownSet   = errors.New("unknown ticket set")
	ErrInvalidGrid  = errors.New("invalid ticket grid")
	ErrDuplicateTID = errors.New("duplicate ticket id")
)

// Set is a named, validated collection of tickets keyed by id.
type Set struct {
	ID      string
	Tickets []game.Ticket
}

type fileSchema struct {
	ID      string       `yaml:"id"`
	Tickets []fileTicket `yaml:"tickets"`
}

type fileTicket struct {
	ID   int      `yaml:"id"`
	Rows [][9]int `yaml:"rows"`
}

// Load parses one ticket-set document and validates every grid.
func Load(r io.Reader) (Set, error) {
	var schema fileSchema
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&schema); err != nil {
		return Set{}, fmt.Errorf("decode ticket set: %w", err)
	}
	if strings.TrimSpace(schema.ID) == "" {
		return Set{}, errors.New("ticket set id is required")
	}
	if len(schema.Tickets) == 0 {
		return Set{}, ErrEmptySet
	}

	seen := map[int]bool{}
	tickets := make([]game.Ticket, 0, len(schema.Tickets))
	for _, ft := range schema.Tickets {
		if ft.ID < 1 {
			return Set{}, fmt.Errorf("%w: ticket id %d", ErrInvalidGrid, ft.ID)
		}
		if seen[ft.ID] {
			return Set{}, fmt.Errorf("%w: %d", ErrDuplicateTID, ft.ID)
		}
		seen[ft.ID] = true

		if len(ft.Rows) != game.TicketRows {
			return Set{}, fmt.Errorf("%w: ticket %d has %d rows", ErrInvalidGrid, ft.ID, len(ft.Rows))
		}
		t := game.Ticket{ID: ft.ID, Available: true}
		for r := range ft.Rows {
			t.Grid[r] = ft.Rows[r]
		}
		if err := Validate(t); err != nil {
			return Set{}, err
		}
		tickets = append(tickets, t)
	}

	sort.Slice(tickets, func(i, j int) bool { return tickets[i].ID < tickets[j].ID })
	return Set{ID: schema.ID, Tickets: tickets}, nil
}

// LoadFile reads a ticket-set YAML file from disk.
func LoadFile(path string) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return Set{}, err
	}
	defer f.Close()
	return Load(f)
}

// Validate checks one grid against the classic ticket shape: five numbers per
// row, cells inside their column range, no repeats within the ticket.
func Validate(t game.Ticket) error {
	seen := map[int]bool{}
	for r := 0; r < game.TicketRows; r++ {
		rowCount := 0
		for c := 0; c < game.TicketCols; c++ {
			n := t.Grid[r][c]
			if n == game.Blank {
				continue
			}
			rowCount++
			low, high := columnRange(c)
			if n < low || n > high {
				return fmt.Errorf("%w: ticket %d cell (%d,%d)=%d outside %d-%d",
					ErrInvalidGrid, t.ID, r, c, n, low, high)
			}
			if seen[n] {
				return fmt.Errorf("%w: ticket %d repeats %d", ErrInvalidGrid, t.ID, n)
			}
			seen[n] = true
		}
		if rowCount != 5 {
			return fmt.Errorf("%w: ticket %d row %d has %d numbers", ErrInvalidGrid, t.ID, r, rowCount)
		}
	}
	return nil
}

// columnRange gives the inclusive number range of column c.
// Column 0 holds 1-9, column 8 holds 80-90, the rest hold ten numbers each.
func columnRange(c int) (int, int) {
	switch c {
	case 0:
		return 1, 9
	case game.TicketCols - 1:
		return 80, game.MaxNumber
	default:
		return c * 10, c*10 + 9
	}
}

// Library resolves ticket-set ids for the processor. File-based sets are
// loaded eagerly from dir (*.yaml); the generated classic-90 set is always
// present as a fallback.
type Library struct {
	sets map[string]Set
}

// NewLibrary loads every .yaml set under dir. dir may be empty.
func NewLibrary(dir string) (*Library, error) {
	lib := &Library{sets: map[string]Set{}}

	builtin := GenerateSet("classic-90", 15, 1)
	lib.sets[builtin.ID] = builtin

	if strings.TrimSpace(dir) == "" {
		return lib, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return lib, nil
		}
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		set, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("ticket set %s: %w", entry.Name(), err)
		}
		lib.sets[set.ID] = set
	}
	return lib, nil
}

// Get returns up to maxTickets tickets of the named set, lowest ids first.
func (l *Library) Get(id string, maxTickets int) ([]game.Ticket, error) {
	set, ok := l.sets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSet, id)
	}
	tickets := set.Tickets
	if maxTickets > 0 && maxTickets < len(tickets) {
		tickets = tickets[:maxTickets]
	}
	out := make([]game.Ticket, len(tickets))
	copy(out, tickets)
	for i := range out {
		out[i].Available = true
	}
	return out, nil
}

// IDs lists the loaded set ids, sorted.
func (l *Library) IDs() []string {
	ids := make([]string, 0, len(l.sets))
	for id := range l.sets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
