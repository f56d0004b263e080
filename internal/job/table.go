package job

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Table is the registry of jobs not yet terminated, rejected, or
// abandoned. The table is an explicit instance rather than a
// package-global so tests can inject a fresh one.
type Table struct {
	mu      sync.Mutex
	jobs    map[int]*Job
	lastJID int

	// NotifyThreshold and MinReport carry through to every job created
	// by this table.
	NotifyThreshold time.Duration
	MinReport       time.Duration
}

// NewTable creates an empty job table.
func NewTable() *Table {
	return &Table{jobs: make(map[int]*Job)}
}

// NewJob issues a fresh JID, creates a Job, arms its unstarted-cleanup
// timer, and adds it to the table.
func (t *Table) NewJob(ctx context.Context, display Display, targetNode string, filter Filter) *Job {
	t.mu.Lock()
	t.lastJID++
	jid := t.lastJID
	j := newJob(jid, display, targetNode, filter, t.NotifyThreshold, t.MinReport)
	j.table = t
	t.jobs[jid] = j
	t.mu.Unlock()

	j.armCleanupTimer(ctx)
	return j
}

// NewRefusedJob returns a phantom job that was never tracked in the
// table, used when a submission is declined (e.g. an ejected node).
func NewRefusedJob(display Display, targetNode string) *Job {
	j := newJob(-1, display, targetNode, nil, 0, 0)
	j.refused = true
	j.started = true
	return j
}

func (t *Table) remove(jid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, jid)
}

// JIDPresent reports whether jid is currently tracked.
func (t *Table) JIDPresent(jid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.jobs[jid]
	return ok
}

// ByJID returns the job with the given JID, if tracked.
func (t *Table) ByJID(jid int) (*Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[jid]
	return j, ok
}

// HasJobs reports whether any job is currently tracked.
func (t *Table) HasJobs() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs) > 0
}

// All returns every tracked job, sorted by JID for deterministic
// display output (e.g. `!jobs`).
func (t *Table) All() []*Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].JID < out[k].JID })
	return out
}

// ForTargetNode returns the JIDs of every job currently tracked as
// running on the given node, used by roll-call reconciliation.
func (t *Table) ForTargetNode(nodeName string) []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []int
	for jid, j := range t.jobs {
		if j.TargetNode == nodeName {
			out = append(out, jid)
		}
	}
	sort.Ints(out)
	return out
}
