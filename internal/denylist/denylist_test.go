package denylist

import "testing"

func TestPermit(t *testing.T) {
	cases := []struct {
		name   string
		script string
		want   bool
	}{
		{"plain listing", "ls -l", true},
		{"rm -rf root", "rm -rf /", false},
		{"rm -fr root glob", "rm -fr /*", false},
		{"rm -rf scoped path", "rm -rf /tmp/deletemii", true},
		{"no-preserve-root flag", "echo --no-preserve-root", false},
		{"classic fork bomb", ":(){ :|:& };:", false},
		{"benign function def", "bloop () { sleep 5; echo bloop }; bloop", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Permit(tc.script); got != tc.want {
				t.Errorf("Permit(%q) = %v, want %v", tc.script, got, tc.want)
			}
		})
	}
}
