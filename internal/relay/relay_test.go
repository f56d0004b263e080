package relay

import (
	"context"
	"strings"
	"testing"
)

func TestDisabledRefuses(t *testing.T) {
	var r Relay = Disabled{}
	if r.Enabled() {
		t.Fatal("expected disabled relay to report unavailable")
	}
	if _, _, err := r.PresignUpload(context.Background(), "foo.txt"); err == nil {
		t.Fatal("expected error from disabled relay")
	}
}

func TestBuildFetchScript(t *testing.T) {
	script := BuildFetchScript("https://cdn.example/file.bin")
	if !strings.Contains(script, "curl -Os 'https://cdn.example/file.bin'") {
		t.Fatalf("expected curl fetch line, got %q", script)
	}
	if !strings.Contains(script, "command -v curl") {
		t.Fatalf("expected curl presence check, got %q", script)
	}
}

func TestBuildUploadScript(t *testing.T) {
	script := BuildUploadScript("out.tar", "https://bucket.example/put")
	if !strings.Contains(script, "curl -s -T 'out.tar' 'https://bucket.example/put'") {
		t.Fatalf("expected curl upload line, got %q", script)
	}
}
