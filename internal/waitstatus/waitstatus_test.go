package waitstatus

import "testing"

func TestDisposition(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   string
	}{
		{"success", 0, "Command completed successfully"},
		{"exit code 1", 1 << 8, "Command completed with status 1"},
		{"exit code 127", 127 << 8, "Command completed with status 127"},
		{"sigkill", 9, "Command terminated with signal 9"},
		{"sigsegv with core dump", 11 | coreDumpFlag, "Command terminated with signal 11 and dumped core"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Disposition(tc.status); got != tc.want {
				t.Errorf("Disposition(%d) = %q, want %q", tc.status, got, tc.want)
			}
		})
	}
}
