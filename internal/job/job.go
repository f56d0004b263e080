// Package job implements the per-job state machine: INIT, issued at
// submission; PENDING until the node confirms startup or rejects;
// RUNNING while streaming output; DONE once stopped, rejected,
// abandoned, or timed out waiting to start.
package job

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jtcave/gridmii/internal/outputfmt"
	"github.com/jtcave/gridmii/internal/term"
	"github.com/jtcave/gridmii/internal/waitstatus"
)

// messageLimit is the largest a Discord message body may be without a
// Nitro subscription.
const messageLimit = 2000

// unstartedTimeout is how long a job may sit in PENDING before the
// controller gives up waiting for a startup message.
const unstartedTimeout = 20 * time.Second

// Filter is the per-job output transform applied to the buffered
// text before it is rendered into the display message.
type Filter func(string) string

// Display is the chat-platform boundary a job renders itself onto: a
// single message that gets edited as output arrives, optionally
// gaining a file attachment and a separate notification ping. It is
// the only point where job touches chat transport.
type Display interface {
	Edit(ctx context.Context, content string) error
	Attach(ctx context.Context, filename string, data []byte) error
	NotifyAuthor(ctx context.Context, content string) error
	URL() string
}

// Publisher is the broker boundary a job uses to reach its node:
// stdin bytes, EOF, and signals.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Job is one script invocation running (or about to run, or having
// run) on one node.
type Job struct {
	JID        int
	TargetNode string

	// Author is the display name of the submitting user, shown in the
	// `!jobs` listing.
	Author string

	mu         sync.Mutex
	buffer     bytes.Buffer
	display    Display
	filter     Filter
	tty        *term.Model
	limiter    *outputfmt.EditLimiter
	started    bool
	willAttach bool
	notified   bool
	refused    bool
	startTime  time.Time

	notifyThreshold time.Duration
	minReport       time.Duration

	cleanupTimer *time.Timer
	table        *Table
}

func passthrough(s string) string { return s }

func newJob(jid int, display Display, targetNode string, filter Filter, notifyThreshold, minReport time.Duration) *Job {
	if filter == nil {
		filter = passthrough
	}
	return &Job{
		JID:             jid,
		TargetNode:      targetNode,
		display:         display,
		filter:          filter,
		limiter:         outputfmt.NewEditLimiter(),
		startTime:       time.Now(),
		notifyThreshold: notifyThreshold,
		minReport:       minReport,
	}
}

// SetTerminal interposes a virtual terminal between the raw output
// stream and the display: writes feed the terminal and the rendered
// plane is what gets shown, while the raw bytes still accumulate in
// the buffer for attachment. Used when the submitting user has a tty
// spec set via `!term`.
func (j *Job) SetTerminal(m *term.Model) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.tty = m
}

// Refused reports whether this is a phantom job standing in for a
// submission the controller declined to make. A refused job is never
// added to a table and its unstarted-cleanup path does nothing; the
// other lifecycle methods do not check the flag.
func (j *Job) Refused() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.refused
}

// Started reports whether the job has left PENDING.
func (j *Job) Started() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.started
}

// WillAttach reports whether output has been promoted to a file
// attachment.
func (j *Job) WillAttach() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.willAttach
}

// StartTime returns the moment the job started on its node, or the
// moment the Job object was created if no startup has arrived yet.
func (j *Job) StartTime() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.startTime
}

func (j *Job) bufferContents() string {
	if j.tty != nil {
		return j.filter(j.tty.Render())
	}
	return j.filter(j.buffer.String())
}

// armCleanupTimer schedules the unstarted-cleanup transition. The
// timer is explicitly cancelled on startup/reject rather than relying
// only on the started flag.
func (j *Job) armCleanupTimer(ctx context.Context) {
	j.cleanupTimer = time.AfterFunc(unstartedTimeout, func() {
		j.cleanUnstarted(ctx)
	})
}

func (j *Job) cleanUnstarted(ctx context.Context) {
	j.mu.Lock()
	if j.started || j.refused {
		j.mu.Unlock()
		return
	}
	j.started = true // suppress any race with a concurrent startup/reject
	jid := j.JID
	disp := j.display
	j.mu.Unlock()

	_ = disp.Edit(ctx, ":x: Your job did not start. The node might not be online.")
	if j.table != nil {
		j.table.remove(jid)
	}
}

// Startup transitions PENDING -> RUNNING.
func (j *Job) Startup(ctx context.Context) error {
	j.mu.Lock()
	if j.cleanupTimer != nil {
		j.cleanupTimer.Stop()
	}
	j.started = true
	j.startTime = time.Now()
	target := j.TargetNode
	disp := j.display
	j.mu.Unlock()

	return disp.Edit(ctx, fmt.Sprintf("Your job has started on `%s`…", target))
}

// Reject transitions PENDING -> DONE without the job ever running.
func (j *Job) Reject(ctx context.Context, reason []byte) error {
	j.mu.Lock()
	if j.cleanupTimer != nil {
		j.cleanupTimer.Stop()
	}
	j.started = true
	jid := j.JID
	disp := j.display
	j.mu.Unlock()

	err := disp.Edit(ctx, fmt.Sprintf("**Could not start job:** `%s`", string(reason)))
	if j.table != nil {
		j.table.remove(jid)
	}
	return err
}

// Write appends stdout/stderr bytes to the buffer and re-renders the
// live display, promoting to file-attachment mode if the rendering
// would exceed the message ceiling.
func (j *Job) Write(ctx context.Context, data []byte) error {
	j.mu.Lock()
	j.buffer.Write(data)
	if j.tty != nil {
		j.tty.Write(data)
	}
	if j.willAttach {
		j.mu.Unlock()
		return nil
	}

	rendered := fmt.Sprintf("Running...\n```ansi\n%s\n```", j.bufferContents())
	var notifyContent string
	if !j.notified && j.notifyThreshold > 0 && time.Since(j.startTime) > j.notifyThreshold {
		j.notified = true
		notifyContent = fmt.Sprintf("Your job #%d is still running: %s", j.JID, j.display.URL())
	}

	promoted := len(rendered) > messageLimit
	if promoted {
		j.willAttach = true
		rendered = "Running...\n*Output will be attached to this message when the job completes*"
	}
	// Pace live re-edits so a chatty job doesn't flood the channel with
	// edits; promotion and the completion edit always go through.
	skipEdit := !promoted && j.limiter != nil && !j.limiter.Allow()
	disp := j.display
	j.mu.Unlock()

	if notifyContent != "" {
		_ = disp.NotifyAuthor(ctx, notifyContent)
	}
	if skipEdit {
		return nil
	}
	return disp.Edit(ctx, rendered)
}

// Stdin sends a line to the job's standard input, as dispatched by a
// reply-to-message post.
func (j *Job) Stdin(ctx context.Context, pub Publisher, data []byte) error {
	topic := fmt.Sprintf("%s/stdin/%d", j.TargetNode, j.JID)
	payload := append(append([]byte{}, data...), '\n')
	return pub.Publish(ctx, topic, payload)
}

// EOF closes the job's standard input, as `!eof` or a Ctrl-D would.
func (j *Job) EOF(ctx context.Context, pub Publisher) error {
	topic := fmt.Sprintf("%s/eof/%d", j.TargetNode, j.JID)
	return pub.Publish(ctx, topic, nil)
}

// Signal sends a POSIX signal number to the job.
func (j *Job) Signal(ctx context.Context, pub Publisher, signum int) error {
	topic := fmt.Sprintf("%s/signal/%d/%d", j.TargetNode, j.JID, signum)
	return pub.Publish(ctx, topic, nil)
}

// Stopped transitions RUNNING -> DONE, decoding the POSIX wait status
// into a human phrase and either inlining the buffer or attaching it
// as a file, depending on willAttach.
func (j *Job) Stopped(ctx context.Context, result []byte) error {
	return j.stopped(ctx, result, false)
}

func (j *Job) stopped(ctx context.Context, result []byte, abandoned bool) error {
	j.mu.Lock()
	var status string
	if abandoned {
		status = "The job was abandoned"
	} else {
		code, _ := strconv.Atoi(strings.TrimSpace(string(result)))
		status = waitstatus.Disposition(code)
	}
	if j.minReport > 0 {
		if elapsed := time.Since(j.startTime); elapsed >= j.minReport {
			status += fmt.Sprintf(" (ran for %s)", elapsed.Round(time.Second))
		}
	}

	willAttach := j.willAttach
	var content string
	var attachData []byte
	var attachName string

	if willAttach {
		content = status
		attachData = j.buffer.Bytes()
		attachName = fmt.Sprintf("gridmii-output-%d.txt", j.JID)
	} else {
		output := j.bufferContents()
		if strings.TrimSpace(output) != "" {
			content = fmt.Sprintf("\n```ansi\n%s\n```\n%s", output, status)
		} else {
			content = status + "\n*The command had no output*"
		}
		if len(content) > messageLimit {
			// Edge case: the termination message itself overflows.
			// Latch willAttach and redo the transition.
			j.willAttach = true
			j.mu.Unlock()
			return j.stopped(ctx, result, abandoned)
		}
	}
	var notifyContent string
	if !j.notified && j.notifyThreshold > 0 && time.Since(j.startTime) > j.notifyThreshold {
		j.notified = true
		notifyContent = fmt.Sprintf("Your job #%d has finished: %s", j.JID, j.display.URL())
	}
	jid := j.JID
	disp := j.display
	j.mu.Unlock()

	if notifyContent != "" {
		_ = disp.NotifyAuthor(ctx, notifyContent)
	}

	var editErr, attachErr error
	if willAttach {
		if err := disp.Attach(ctx, attachName, attachData); err != nil {
			attachErr = err
			content += fmt.Sprintf("\n**Error attaching file:**\n```%s```", err.Error())
		}
	}
	editErr = disp.Edit(ctx, content)

	if j.table != nil {
		j.table.remove(jid)
	}
	if editErr != nil {
		return editErr
	}
	return attachErr
}

// Abandon flushes the job's output immediately and removes it from
// the table, then sends a best-effort SIGKILL in case it is still
// running on the node.
func (j *Job) Abandon(ctx context.Context, pub Publisher) error {
	if err := j.stopped(ctx, nil, true); err != nil {
		return err
	}
	return j.Signal(ctx, pub, 9)
}

// Tail returns the last n lines of the rendered output: the filtered
// buffer, or the terminal plane when a terminal is set.
func (j *Job) Tail(n int) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	lines := strings.Split(j.bufferContents(), "\n")
	if n >= len(lines) {
		return lines
	}
	if n <= 0 {
		return nil
	}
	return lines[len(lines)-n:]
}

func (j *Job) String() string {
	return fmt.Sprintf("<Job: jid=#%d node='%s'>", j.JID, j.TargetNode)
}

// URLHint returns the jump URL of the job's display message.
func (j *Job) URLHint() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.display.URL()
}
