package game

// TicketRows and TicketCols fix the classic 90-number grid shape.
const (
	TicketRows = 3
	TicketCols = 9
	MaxNumber  = 90
)

// Blank marks an unplayable cell in a ticket grid.
const Blank = 0

// Ticket is one 3x9 grid. Cells hold 1-90 or Blank.
type Ticket struct {
	ID        int                         `json:"id"`
	Grid      [TicketRows][TicketCols]int `json:"grid"`
	Available bool                        `json:"available"`
}

// Numbers returns every non-blank cell in row-major order.
func (t Ticket) Numbers() []int {
	out := make([]int, 0, 15)
	for r := 0; r < TicketRows; r++ {
		for c := 0; c < TicketCols; c++ {
			if t.Grid[r][c] != Blank {
				out = append(out, t.Grid[r][c])
			}
		}
	}
	return out
}

// RowNumbers returns the non-blank cells of one row, left to right.
func (t Ticket) RowNumbers(row int) []int {
	if row < 0 || row >= TicketRows {
		return nil
	}
	out := make([]int, 0, 5)
	for c := 0; c < TicketCols; c++ {
		if t.Grid[row][c] != Blank {
			out = append(out, t.Grid[row][c])
		}
	}
	return out
}

// Contains reports whether n appears on the ticket.
func (t Ticket) Contains(n int) bool {
	for r := 0; r < TicketRows; r++ {
		for c := 0; c < TicketCols; c++ {
			if t.Grid[r][c] == n {
				return true
			}
		}
	}
	return false
}

// SheetNumber gives the 1-based sheet a ticket belongs to.
// Sheets group six consecutively numbered tickets: 1-6, 7-12, ...
func SheetNumber(ticketID int) int {
	return (ticketID-1)/6 + 1
}

// PositionInSheet gives the 1-based slot of a ticket within its sheet.
func PositionInSheet(ticketID int) int {
	return (ticketID-1)%6 + 1
}

// SheetTicketIDs lists the six ticket ids of a sheet.
func SheetTicketIDs(sheet int) [6]int {
	base := (sheet - 1) * 6
	return [6]int{base + 1, base + 2, base + 3, base + 4, base + 5, base + 6}
}

// SheetHalves splits a sheet into its first and second half.
func SheetHalves(sheet int) [2][3]int {
	ids := SheetTicketIDs(sheet)
	return [2][3]int{
		{ids[0], ids[1], ids[2]},
		{ids[3], ids[4], ids[5]},
	}
}
