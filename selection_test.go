package headlessterm

import "testing"

func TestSelectionBasic(t *testing.T) {
	term := New(WithSize(24, 80))

	term.WriteString("Hello World")
	term.SetSelection(Position{Row: 0, Col: 0}, Position{Row: 0, Col: 4})

	if !term.HasSelection() {
		t.Error("expected selection to be active")
	}

	if selected := term.GetSelectedText(); selected != "Hello" {
		t.Errorf("expected 'Hello', got %q", selected)
	}

	term.ClearSelection()
	if term.HasSelection() {
		t.Error("expected selection to be cleared")
	}
}

func TestSelectionWordSnap(t *testing.T) {
	term := New(WithSize(24, 80))
	term.WriteString("foo bar baz")

	term.StartSelection(0, 5, SnapWord)
	term.ExtendSelection(0, 5, SelectionRegular, true)

	if got := term.GetSelectedText(); got != "bar" {
		t.Errorf("expected 'bar', got %q", got)
	}
}

func TestSelectionLineSnap(t *testing.T) {
	term := New(WithSize(24, 80))
	term.WriteString("some text here")

	term.StartSelection(0, 5, SnapLine)
	term.ExtendSelection(0, 5, SelectionRegular, true)

	sel := term.GetSelection()
	if sel.Start.Col != 0 {
		t.Errorf("expected start col 0, got %d", sel.Start.Col)
	}
	if sel.End.Col != 79 {
		t.Errorf("expected end col 79, got %d", sel.End.Col)
	}
}

func TestSelectionRectangular(t *testing.T) {
	term := New(WithSize(24, 80))
	term.WriteString("abcdef\r\nghijkl")

	term.StartSelection(0, 1, SnapNone)
	term.ExtendSelection(1, 3, SelectionRectangular, false)
	term.ExtendSelection(1, 3, SelectionRectangular, true)

	if got := term.GetSelectedText(); got != "bcd\nhij" {
		t.Errorf("expected 'bcd\\nhij', got %q", got)
	}
}

func TestSelectionClickWithoutDragIsDiscarded(t *testing.T) {
	term := New(WithSize(24, 80))
	term.WriteString("hello")

	term.StartSelection(0, 1, SnapNone)
	term.ExtendSelection(0, 1, SelectionRegular, true)

	if term.HasSelection() {
		t.Error("expected a click with no drag to discard the selection")
	}
}

func TestSelectionGoesInertOnDifferentScreen(t *testing.T) {
	term := New(WithSize(24, 80))
	term.WriteString("hello")
	term.SetSelection(Position{Row: 0, Col: 0}, Position{Row: 0, Col: 4})

	if !term.IsSelected(0, 0) {
		t.Error("expected (0,0) to be selected on the primary screen")
	}

	term.WriteString("\x1b[?1049h") // switch to alternate screen

	if term.IsSelected(0, 0) {
		t.Error("expected selection to go inert after switching to the alternate screen")
	}
	if term.GetSelectedText() != "" {
		t.Error("expected empty text once the selection's screen is no longer active")
	}
}

func TestSelectionScrollShiftsRows(t *testing.T) {
	term := New(WithSize(24, 80))
	term.SetSelection(Position{Row: 5, Col: 0}, Position{Row: 7, Col: 0})

	term.ScrollUp(2)

	sel := term.GetSelection()
	if sel.Start.Row != 3 || sel.End.Row != 5 {
		t.Errorf("expected rows to shift up by 2 to (3,5), got (%d,%d)", sel.Start.Row, sel.End.Row)
	}
}

func TestSelectionScrollClearsStraddlingRegion(t *testing.T) {
	term := New(WithSize(24, 80))
	term.SetScrollingRegion(10, 20)
	term.SetSelection(Position{Row: 5, Col: 0}, Position{Row: 15, Col: 0})

	term.ScrollUp(1)

	if term.HasSelection() {
		t.Error("expected a selection straddling the scroll region boundary to be cleared")
	}
}
