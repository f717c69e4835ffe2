package game

import "testing"

func sampleTicket() Ticket {
	t := Ticket{ID: 1}
	t.Grid[0][0] = 5
	t.Grid[0][2] = 23
	t.Grid[0][5] = 57
	t.Grid[1][1] = 16
	t.Grid[1][4] = 49
	t.Grid[2][3] = 34
	t.Grid[2][8] = 90
	return t
}

func TestTicketNumbersAndRows(t *testing.T) {
	ticket := sampleTicket()

	numbers := ticket.Numbers()
	want := []int{5, 23, 57, 16, 49, 34, 90}
	if len(numbers) != len(want) {
		t.Fatalf("Numbers() = %v, want %v", numbers, want)
	}
	for i, n := range want {
		if numbers[i] != n {
			t.Errorf("Numbers()[%d] = %d, want %d", i, numbers[i], n)
		}
	}

	top := ticket.RowNumbers(0)
	if len(top) != 3 || top[0] != 5 || top[2] != 57 {
		t.Errorf("RowNumbers(0) = %v", top)
	}
	if got := ticket.RowNumbers(3); got != nil {
		t.Errorf("RowNumbers(3) = %v, want nil", got)
	}

	if !ticket.Contains(49) || ticket.Contains(50) {
		t.Error("Contains is wrong for 49/50")
	}
}

func TestSheetArithmetic(t *testing.T) {
	cases := []struct {
		ticketID int
		sheet    int
		position int
	}{
		{1, 1, 1},
		{6, 1, 6},
		{7, 2, 1},
		{12, 2, 6},
		{13, 3, 1},
	}
	for _, tc := range cases {
		if got := SheetNumber(tc.ticketID); got != tc.sheet {
			t.Errorf("SheetNumber(%d) = %d, want %d", tc.ticketID, got, tc.sheet)
		}
		if got := PositionInSheet(tc.ticketID); got != tc.position {
			t.Errorf("PositionInSheet(%d) = %d, want %d", tc.ticketID, got, tc.position)
		}
	}

	ids := SheetTicketIDs(2)
	if ids != [6]int{7, 8, 9, 10, 11, 12} {
		t.Errorf("SheetTicketIDs(2) = %v", ids)
	}
	halves := SheetHalves(2)
	if halves[0] != [3]int{7, 8, 9} || halves[1] != [3]int{10, 11, 12} {
		t.Errorf("SheetHalves(2) = %v", halves)
	}
}

func TestSettingsPrizeEnabled(t *testing.T) {
	s := Settings{EnabledPrizes: []PrizeType{PrizeTopLine, PrizeFullHouse}}
	if !s.PrizeEnabled(PrizeTopLine) || s.PrizeEnabled(PrizeQuickFive) {
		t.Errorf("PrizeEnabled misbehaves for %v", s.EnabledPrizes)
	}
}

func TestNumberSystemCalled(t *testing.T) {
	ns := NumberSystem{CalledNumbers: []int{4, 17, 88}}
	if !ns.Called(17) || ns.Called(18) {
		t.Error("Called is wrong for 17/18")
	}
}

func TestValidPrizeCoversAllPrizes(t *testing.T) {
	for _, pt := range AllPrizes() {
		if !ValidPrize(pt) {
			t.Errorf("ValidPrize(%q) = false", pt)
		}
	}
	if ValidPrize(PrizeType("jackpot")) {
		t.Error("unknown prize accepted")
	}
}
