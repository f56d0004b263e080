package node

import "testing"

func TestSeenAndGone(t *testing.T) {
	table := NewTable()

	if table.HasNodes() {
		t.Fatal("expected empty table")
	}
	if table.Present("hal") {
		t.Fatal("expected hal absent")
	}

	table.Seen("hal", "")
	if !table.HasNodes() {
		t.Fatal("expected table to have nodes")
	}
	if !table.Present("hal") {
		t.Fatal("expected hal present")
	}

	table.Gone("hal")
	if table.HasNodes() {
		t.Fatal("expected table empty again")
	}
	if table.Present("hal") {
		t.Fatal("expected hal absent again")
	}
}

func TestAllReturnsEveryNode(t *testing.T) {
	names := []string{"hal", "AM", "Wintermute"}
	table := NewTable()
	for _, n := range names {
		table.Seen(n, "test")
	}
	all := table.All()
	if len(all) != len(names) {
		t.Fatalf("expected %d nodes, got %d", len(names), len(all))
	}
}

func TestByNameCaseInsensitive(t *testing.T) {
	table := NewTable()
	for _, n := range []string{"hal", "HAL", "Wintermute"} {
		table.Seen(n, "test")
	}

	if got := table.ByName("Jane"); len(got) != 0 {
		t.Fatalf("expected no match, got %v", got)
	}

	got := table.ByName("Wintermute")
	if len(got) != 1 || got[0].Name != "Wintermute" {
		t.Fatalf("expected exact match Wintermute, got %v", got)
	}

	got = table.ByName("HAL")
	if len(got) != 1 || got[0].Name != "HAL" {
		t.Fatalf("expected exact match HAL, got %v", got)
	}

	got = table.ByName("WINTERMUTE")
	if len(got) != 1 || got[0].Name != "Wintermute" {
		t.Fatalf("expected single case-insensitive match, got %v", got)
	}

	got = table.ByName("Hal")
	if len(got) != 2 {
		t.Fatalf("expected 2 case-insensitive matches, got %v", got)
	}
}

func TestByNamePrefix(t *testing.T) {
	names := []string{"spam", "eggs", "spam-and-eggs", "spam-bacon-and-eggs", "baked-beans-and-spam"}
	table := NewTable()
	for _, n := range names {
		table.Seen(n, "test")
	}

	if got := table.ByName("sausage"); len(got) != 0 {
		t.Fatalf("expected no match, got %v", got)
	}

	got := table.ByName("eggs")
	if len(got) != 1 || got[0].Name != "eggs" {
		t.Fatalf("expected exact eggs, got %v", got)
	}

	got = table.ByName("spam")
	if len(got) != 1 || got[0].Name != "spam" {
		t.Fatalf("expected exact match to win over prefix, got %v", got)
	}

	got = table.ByName("baked-")
	if len(got) != 1 || got[0].Name != "baked-beans-and-spam" {
		t.Fatalf("expected unambiguous prefix match, got %v", got)
	}

	got = table.ByName("spam-")
	if len(got) != 2 {
		t.Fatalf("expected 2 ambiguous prefix matches, got %v", got)
	}
}

func TestEjectedNodeRefusesJobs(t *testing.T) {
	table := NewTable()
	table.Seen("hal", "")
	n, ok := table.Eject("hal")
	if !ok {
		t.Fatal("expected eject to succeed")
	}
	if n.CanAcceptJobs() {
		t.Fatal("expected ejected node to refuse jobs")
	}
	if !table.Present("hal") {
		t.Fatal("expected ejected node to remain in the table")
	}
}

func TestPickPrefersUserLocus(t *testing.T) {
	table := NewTable()
	table.Seen("a", "")
	table.Seen("b", "")

	n := table.Pick("b")
	if n == nil || n.Name != "b" {
		t.Fatalf("expected to pick user locus b, got %v", n)
	}
}

func TestPickFallsBackToFirstAcceptingNode(t *testing.T) {
	table := NewTable()
	table.Seen("a", "")
	table.Seen("b", "")

	n := table.Pick("")
	if n == nil || n.Name != "a" {
		t.Fatalf("expected first node a, got %v", n)
	}
	if table.Locus() != "a" {
		t.Fatalf("expected global locus set to a, got %q", table.Locus())
	}
}

func TestPickSkipsEjectedNodes(t *testing.T) {
	table := NewTable()
	table.Seen("a", "")
	table.Eject("a")
	table.Seen("b", "")

	n := table.Pick("")
	if n == nil || n.Name != "b" {
		t.Fatalf("expected to skip ejected node a, got %v", n)
	}
}

func TestPickReturnsNilWhenNoNodes(t *testing.T) {
	table := NewTable()
	if got := table.Pick(""); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
