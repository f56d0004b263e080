package prefs

import "testing"

func TestGetCreatesEmptyRecord(t *testing.T) {
	s := NewStore()
	p := s.Get("u1")
	if p.Locus != "" || p.TTY != nil {
		t.Fatalf("expected fresh empty prefs, got %+v", p)
	}
}

func TestSetLocusPersists(t *testing.T) {
	s := NewStore()
	s.SetLocus("u1", "spam")
	if got := s.Get("u1").Locus; got != "spam" {
		t.Fatalf("expected locus spam, got %q", got)
	}
	if got := s.Get("u2").Locus; got != "" {
		t.Fatalf("expected other user unaffected, got %q", got)
	}
}

func TestSetTTYAndClear(t *testing.T) {
	s := NewStore()
	s.SetTTY("u1", &TTY{Term: "dumb", Columns: 40, Lines: 20})
	tty := s.Get("u1").TTY
	if tty == nil || tty.Term != "dumb" || tty.Columns != 40 || tty.Lines != 20 {
		t.Fatalf("unexpected tty spec %+v", tty)
	}

	s.SetTTY("u1", nil)
	if s.Get("u1").TTY != nil {
		t.Fatal("expected tty mode off after clearing")
	}
}
