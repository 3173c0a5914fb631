package mailbox

import (
	"errors"
	"testing"
)

func TestCursorStack_Initial(t *testing.T) {
	var c CursorStack
	if c.Page() != 1 {
		t.Errorf("Page() = %d, want 1", c.Page())
	}
	if c.HasPrev() || c.HasNext() {
		t.Errorf("HasPrev/HasNext = %v/%v, want false/false", c.HasPrev(), c.HasNext())
	}
	if _, ok := c.Retreat(); ok {
		t.Error("Retreat on first page should report false")
	}
	if _, err := c.Advance(); !errors.Is(err, ErrNoNextPage) {
		t.Errorf("Advance without next token: err = %v, want ErrNoNextPage", err)
	}
	if c.Page() != 1 || c.Current() != "" {
		t.Errorf("failed moves changed state: page=%d current=%q", c.Page(), c.Current())
	}
}

func TestCursorStack_ForwardAndBack(t *testing.T) {
	var c CursorStack

	c.SetNext("t2")
	cur, err := c.Advance()
	if err != nil || cur != "t2" {
		t.Fatalf("Advance() = %q, %v; want t2, nil", cur, err)
	}
	c.SetNext("t3")
	if cur, _ = c.Advance(); cur != "t3" {
		t.Fatalf("Advance() = %q, want t3", cur)
	}
	if c.Page() != 3 || c.Depth() != 2 {
		t.Fatalf("Page/Depth = %d/%d, want 3/2", c.Page(), c.Depth())
	}
	if c.HasNext() {
		t.Error("next token should be consumed by Advance")
	}

	cur, ok := c.Retreat()
	if !ok || cur != "t2" {
		t.Fatalf("Retreat() = %q, %v; want t2, true", cur, ok)
	}
	cur, ok = c.Retreat()
	if !ok || cur != "" {
		t.Fatalf("Retreat() = %q, %v; want \"\", true", cur, ok)
	}
	if c.Page() != 1 || c.HasPrev() {
		t.Errorf("after full retreat: page=%d hasPrev=%v", c.Page(), c.HasPrev())
	}
}

func TestCursorStack_Reset(t *testing.T) {
	var c CursorStack
	c.SetNext("a")
	_, _ = c.Advance()
	c.SetNext("b")
	c.Reset()
	if c.Page() != 1 || c.HasNext() || c.HasPrev() || c.Current() != "" {
		t.Errorf("Reset left state behind: %+v", c)
	}
}

func TestCursorStack_Range(t *testing.T) {
	var c CursorStack
	c.SetNext("p2")
	_, _ = c.Advance()

	tests := []struct {
		name  string
		shown int
		total int64
		want  PageRange
	}{
		{"full page", 25, 120, PageRange{Start: 26, End: 50, Total: 120}},
		{"short page", 3, 28, PageRange{Start: 26, End: 28, Total: 28}},
		{"estimate too small", 10, 5, PageRange{Start: 26, End: 35, Total: 35}},
		{"empty page", 0, 40, PageRange{Total: 40}},
		{"empty negative total", 0, -1, PageRange{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Range(25, tt.shown, tt.total); got != tt.want {
				t.Errorf("Range() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
