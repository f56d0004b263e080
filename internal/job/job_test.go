package job

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jtcave/gridmii/internal/term"
)

type fakeDisplay struct {
	mu       sync.Mutex
	edits    []string
	attached [][]byte
	attachName string
	notified []string
}

func (f *fakeDisplay) Edit(ctx context.Context, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, content)
	return nil
}

func (f *fakeDisplay) Attach(ctx context.Context, filename string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachName = filename
	f.attached = append(f.attached, data)
	return nil
}

func (f *fakeDisplay) NotifyAuthor(ctx context.Context, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, content)
	return nil
}

func (f *fakeDisplay) URL() string { return "https://discord.example/channel/1/2" }

func (f *fakeDisplay) lastEdit() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return ""
	}
	return f.edits[len(f.edits)-1]
}

type fakePublisher struct {
	mu        sync.Mutex
	published map[string][]byte
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: make(map[string][]byte)}
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = payload
	return nil
}

func TestInlineJobCompletesWithoutAttachment(t *testing.T) {
	table := NewTable()
	disp := &fakeDisplay{}
	ctx := context.Background()

	j := table.NewJob(ctx, disp, "test-node", nil)
	if err := j.Startup(ctx); err != nil {
		t.Fatal(err)
	}

	chunks := []string{"aaaaa", "bbbbb", "ccccc", "ddddd", "eeeee"}
	for _, c := range chunks {
		if err := j.Write(ctx, []byte(strings.Repeat(c, 4))); err != nil {
			t.Fatal(err)
		}
	}

	if err := j.Stopped(ctx, []byte("0")); err != nil {
		t.Fatal(err)
	}

	if j.WillAttach() {
		t.Fatal("expected job not to be promoted to attachment")
	}
	if table.JIDPresent(j.JID) {
		t.Fatal("expected job removed from table after stopping")
	}
	last := disp.lastEdit()
	if !strings.Contains(last, "Command completed successfully") {
		t.Fatalf("expected success status in final edit, got %q", last)
	}
	if !strings.Contains(last, "```ansi") {
		t.Fatalf("expected fenced code block in final edit, got %q", last)
	}
}

func TestOverflowPromotesToAttachment(t *testing.T) {
	table := NewTable()
	disp := &fakeDisplay{}
	ctx := context.Background()

	j := table.NewJob(ctx, disp, "test-node", nil)
	_ = j.Startup(ctx)

	big := strings.Repeat("x", 3000)
	if err := j.Write(ctx, []byte(big)); err != nil {
		t.Fatal(err)
	}
	if !j.WillAttach() {
		t.Fatal("expected job to be promoted to attachment mode")
	}
	if !strings.Contains(disp.lastEdit(), "attached to this message") {
		t.Fatalf("expected placeholder message, got %q", disp.lastEdit())
	}

	if err := j.Stopped(ctx, []byte("0")); err != nil {
		t.Fatal(err)
	}
	if len(disp.attached) != 1 {
		t.Fatalf("expected one attachment, got %d", len(disp.attached))
	}
	if disp.attachName != "gridmii-output-1.txt" {
		t.Fatalf("unexpected attachment name %q", disp.attachName)
	}
}

func TestUnstartedTimeoutRemovesJob(t *testing.T) {
	table := NewTable()
	disp := &fakeDisplay{}
	ctx := context.Background()

	j := table.NewJob(ctx, disp, "test-node", nil)
	// Simulate the cleanup timer firing without waiting the real 20s.
	j.cleanupTimer.Stop()
	j.cleanUnstarted(ctx)

	if table.JIDPresent(j.JID) {
		t.Fatal("expected job removed after unstarted timeout")
	}
	if !strings.Contains(disp.lastEdit(), "might not be online") {
		t.Fatalf("expected node-offline message, got %q", disp.lastEdit())
	}
}

func TestStartupCancelsCleanupTimer(t *testing.T) {
	table := NewTable()
	disp := &fakeDisplay{}
	ctx := context.Background()

	j := table.NewJob(ctx, disp, "test-node", nil)
	if err := j.Startup(ctx); err != nil {
		t.Fatal(err)
	}
	j.cleanUnstarted(ctx) // should be a no-op now
	if !table.JIDPresent(j.JID) {
		t.Fatal("expected job to remain tracked after startup suppressed cleanup")
	}
}

func TestRejectRemovesJobAndSuppressesTimeout(t *testing.T) {
	table := NewTable()
	disp := &fakeDisplay{}
	ctx := context.Background()

	j := table.NewJob(ctx, disp, "test-node", nil)
	if err := j.Reject(ctx, []byte("node busy")); err != nil {
		t.Fatal(err)
	}
	if table.JIDPresent(j.JID) {
		t.Fatal("expected rejected job removed from table")
	}
	if !strings.Contains(disp.lastEdit(), "Could not start job") {
		t.Fatalf("expected rejection message, got %q", disp.lastEdit())
	}
}

func TestAbandonFlushesAndSignalsKill(t *testing.T) {
	table := NewTable()
	disp := &fakeDisplay{}
	pub := newFakePublisher()
	ctx := context.Background()

	j := table.NewJob(ctx, disp, "N", nil)
	_ = j.Startup(ctx)
	_ = j.Write(ctx, []byte("hello"))

	if err := j.Abandon(ctx, pub); err != nil {
		t.Fatal(err)
	}
	if table.JIDPresent(j.JID) {
		t.Fatal("expected abandoned job removed from table")
	}
	if !strings.Contains(disp.lastEdit(), "abandoned") {
		t.Fatalf("expected abandon status, got %q", disp.lastEdit())
	}
	if payload, ok := pub.published["N/signal/1/9"]; !ok || payload != nil && len(payload) != 0 {
		t.Fatalf("expected empty SIGKILL publish to N/signal/1/9, got %v ok=%v", payload, ok)
	}
}

func TestRefusedJobIsNotTracked(t *testing.T) {
	disp := &fakeDisplay{}
	rj := NewRefusedJob(disp, "ejected-node")
	if !rj.Refused() {
		t.Fatal("expected refused flag set")
	}
	if rj.JID != -1 {
		t.Fatalf("expected sentinel JID -1, got %d", rj.JID)
	}
}

func TestTerminalModeRendersPlane(t *testing.T) {
	table := NewTable()
	disp := &fakeDisplay{}
	ctx := context.Background()

	j := table.NewJob(ctx, disp, "N", nil)
	j.SetTerminal(term.New(10, 2))
	_ = j.Startup(ctx)

	_ = j.Write(ctx, []byte("ab\r\ncd"))

	last := disp.lastEdit()
	if !strings.Contains(last, "ab        \ncd        ") {
		t.Fatalf("expected fixed-width terminal plane in edit, got %q", last)
	}
}

func TestNotificationFiresOnceAfterThreshold(t *testing.T) {
	table := NewTable()
	table.NotifyThreshold = 1 * time.Millisecond
	disp := &fakeDisplay{}
	ctx := context.Background()

	j := table.NewJob(ctx, disp, "N", nil)
	_ = j.Startup(ctx)
	time.Sleep(5 * time.Millisecond)

	_ = j.Write(ctx, []byte("a"))
	_ = j.Write(ctx, []byte("b"))

	if len(disp.notified) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(disp.notified))
	}
}
