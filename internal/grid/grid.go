// Package grid is the controller core: it owns the broker session
// loop, the chat command surface, topic routing, and roll-call
// reconciliation. Chat transport and broker
// transport are external collaborators reached only through the
// internal/chat.Adapter and internal/broker.Broker interfaces.
package grid

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jtcave/gridmii/internal/broker"
	"github.com/jtcave/gridmii/internal/chat"
	"github.com/jtcave/gridmii/internal/config"
	"github.com/jtcave/gridmii/internal/denylist"
	"github.com/jtcave/gridmii/internal/job"
	"github.com/jtcave/gridmii/internal/metrics"
	"github.com/jtcave/gridmii/internal/node"
	"github.com/jtcave/gridmii/internal/prefs"
	"github.com/jtcave/gridmii/internal/relay"
	"github.com/jtcave/gridmii/internal/term"
)

// announceSettleDelay is how long after the broker session comes up
// the controller waits before it starts announcing node connects and
// disconnects, so a burst of presence messages right at startup
// doesn't spam the channel.
const announceSettleDelay = 5 * time.Second

// rollCallInterval is the default period between automatic roll
// calls.
const rollCallInterval = time.Hour

// Controller wires the node table, job table, user preferences, chat
// adapter, and broker together into the running grid.
type Controller struct {
	Config *config.Config
	Logger *zap.Logger

	Chat   chat.Adapter
	Broker broker.Broker
	Relay  relay.Relay

	Nodes   *node.Table
	Jobs    *job.Table
	Prefs   *prefs.Store
	Metrics *metrics.GridMetrics

	mu              sync.Mutex
	canAnnounce     bool
	jobReplyIndex   map[string]int // chat message ID -> JID
}

// New creates a Controller ready to Run.
func New(cfg *config.Config, logger *zap.Logger, chatAdapter chat.Adapter, brk broker.Broker, rel relay.Relay, m *metrics.GridMetrics) *Controller {
	if rel == nil {
		rel = relay.Disabled{}
	}
	return &Controller{
		Config:        cfg,
		Logger:        logger,
		Chat:          chatAdapter,
		Broker:        brk,
		Relay:         rel,
		Nodes:         node.NewTable(),
		Jobs:          job.NewTable(),
		Prefs:         prefs.NewStore(),
		Metrics:       m,
		jobReplyIndex: make(map[string]int),
	}
}

// Run starts the chat dispatcher, the broker message pump, and the
// roll-call ticker, and blocks until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.Jobs.NotifyThreshold = c.Config.NotifyThreshold()
	c.Jobs.MinReport = c.Config.MinReportDuration()

	// The configured target node seeds the global locus so the first
	// submission goes there once that node shows up.
	if c.Config.TargetNode != "" {
		c.Nodes.SetLocus(c.Config.TargetNode)
	}

	if err := c.Chat.Open(ctx); err != nil {
		return fmt.Errorf("open chat session: %w", err)
	}
	defer c.Chat.Close()

	c.Chat.OnMessage(func(ev chat.MessageEvent) {
		c.handleChatMessage(ctx, ev)
	})

	go c.postConnectInitializer(ctx)
	go c.rollCallLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.Broker.Messages():
			if !ok {
				return nil
			}
			c.handleBrokerMessage(ctx, msg)
		}
	}
}

func (c *Controller) postConnectInitializer(ctx context.Context) {
	// Block until the broker session is actually up, then sit out the
	// settle delay so the burst of node/connect replies to the initial
	// grid/ping doesn't get announced one by one.
	for !c.Broker.Connected() {
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
	select {
	case <-time.After(announceSettleDelay):
	case <-ctx.Done():
		return
	}
	if c.Config.Channel == "" {
		c.Logger.Warn("no target channel configured; status messages won't be sent")
		return
	}
	if !c.Chat.ResolveChannel(c.Config.Channel) {
		c.Logger.Error("configured target channel not found", zap.String("channel", c.Config.Channel))
		return
	}
	c.mu.Lock()
	c.canAnnounce = true
	c.mu.Unlock()
}

func (c *Controller) announcingAllowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canAnnounce
}

func (c *Controller) rollCallLoop(ctx context.Context) {
	ticker := time.NewTicker(rollCallInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RequestRollCall(ctx)
		}
	}
}

// OnBrokerConnect is invoked by the broker session loop each time a
// session is (re)established: it solicits presence from the fleet with
// a single grid/ping.
func (c *Controller) OnBrokerConnect(ctx context.Context) {
	if c.Metrics != nil {
		c.Metrics.BrokerReconnects.Inc()
	}
	if err := c.Broker.Publish(ctx, "grid/ping", nil); err != nil {
		c.Logger.Error("failed to publish grid ping", zap.Error(err))
	}
}

// RequestRollCall publishes grid/roll_call, used by the hourly ticker
// and by the `!rollcall` admin command.
func (c *Controller) RequestRollCall(ctx context.Context) {
	if err := c.Broker.Publish(ctx, "grid/roll_call", nil); err != nil {
		c.Logger.Error("failed to publish roll call", zap.Error(err))
	}
}

// Scram publishes grid/scram, the fleet-wide emergency stop. The
// controller does not clear its own job table; it waits for the
// resulting `stopped`/`reject` messages or the next roll-call.
func (c *Controller) Scram(ctx context.Context) error {
	c.Logger.Warn("scram requested")
	return c.Broker.Publish(ctx, "grid/scram", nil)
}

// --- broker message routing ---

func (c *Controller) handleBrokerMessage(ctx context.Context, msg broker.Message) {
	parts := strings.Split(msg.Topic, "/")
	if len(parts) == 0 {
		return
	}

	switch {
	case parts[0] == "job" && len(parts) == 3:
		c.handleJobMessage(ctx, parts[1], parts[2], msg.Payload)
	case parts[0] == "node" && len(parts) == 2:
		c.handleNodeMessage(ctx, parts[1], msg.Payload)
	default:
		c.Logger.Debug("ignoring unrecognized topic", zap.String("topic", msg.Topic))
	}
}

func (c *Controller) handleJobMessage(ctx context.Context, jidStr, event string, payload []byte) {
	jid, err := strconv.Atoi(jidStr)
	if err != nil {
		c.Logger.Warn("malformed jid in topic", zap.String("jid", jidStr))
		return
	}
	j, ok := c.Jobs.ByJID(jid)
	if !ok {
		c.Logger.Warn("message for spurious job", zap.Int("jid", jid))
		return
	}

	var actionErr error
	switch event {
	case "stdout", "stderr":
		actionErr = j.Write(ctx, payload)
	case "startup":
		actionErr = j.Startup(ctx)
	case "reject":
		actionErr = j.Reject(ctx, payload)
	case "stopped":
		actionErr = j.Stopped(ctx, payload)
	default:
		c.Logger.Warn("unknown job event", zap.String("event", event), zap.Int("jid", jid))
		return
	}
	if actionErr != nil {
		c.Logger.Error("error handling job message", zap.Int("jid", jid), zap.String("event", event), zap.Error(actionErr))
	}
	if c.Metrics != nil {
		c.Metrics.JobsActive.Set(float64(len(c.Jobs.All())))
	}
}

type nodeConnectPayload struct {
	Node    string `json:"node"`
	Version string `json:"version"`
}

func (c *Controller) handleNodeMessage(ctx context.Context, event string, payload []byte) {
	switch event {
	case "connect":
		name, version := parseNodeConnect(payload)
		if name == "" {
			c.Logger.Warn("malformed node/connect payload")
			return
		}
		c.Nodes.Seen(name, version)
		c.setNodeGauge()
		c.announce(ctx, fmt.Sprintf(":inbox_tray: Node `%s` is connected", name))
	case "disconnect":
		name := strings.TrimSpace(string(payload))
		c.Nodes.Gone(name)
		c.setNodeGauge()
		c.announce(ctx, fmt.Sprintf(":outbox_tray: Node `%s` has disconnected", name))
	case "announce":
		c.announce(ctx, string(payload))
	case "roll_call":
		c.reconcileRollCall(ctx, payload)
	default:
		c.Logger.Debug("unknown node event", zap.String("event", event))
	}
}

func parseNodeConnect(payload []byte) (name, version string) {
	var p nodeConnectPayload
	if err := json.Unmarshal(payload, &p); err == nil && p.Node != "" {
		return p.Node, p.Version
	}
	// legacy bare name string
	return strings.TrimSpace(string(payload)), ""
}

func (c *Controller) setNodeGauge() {
	if c.Metrics != nil {
		c.Metrics.NodesOnline.Set(float64(len(c.Nodes.All())))
	}
}

func (c *Controller) announce(ctx context.Context, content string) {
	if !c.announcingAllowed() || c.Config.Channel == "" {
		return
	}
	_, err := Retry(ctx, c.Logger, 3, time.Second, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Chat.SendToChannel(ctx, c.Config.Channel, content)
	})
	if err != nil {
		c.Logger.Error("failed to send announcement", zap.Error(err))
	}
}

type rollCallPayload struct {
	Node string `json:"node"`
	Jobs []int  `json:"jobs"`
}

func (c *Controller) reconcileRollCall(ctx context.Context, payload []byte) {
	var rc rollCallPayload
	if err := json.Unmarshal(payload, &rc); err != nil {
		c.Logger.Warn("malformed node/roll_call payload", zap.Error(err))
		return
	}

	acknowledged := make(map[int]bool, len(rc.Jobs))
	for _, jid := range rc.Jobs {
		acknowledged[jid] = true
	}

	for _, jid := range c.Jobs.ForTargetNode(rc.Node) {
		if acknowledged[jid] {
			continue
		}
		j, ok := c.Jobs.ByJID(jid)
		if !ok {
			continue
		}
		c.Logger.Info("abandoning job not acknowledged by roll call", zap.Int("jid", jid), zap.String("node", rc.Node))
		if err := j.Abandon(ctx, c.Broker); err != nil {
			c.Logger.Error("error abandoning job during roll call", zap.Int("jid", jid), zap.Error(err))
		}
		if c.Metrics != nil {
			c.Metrics.JobsAbandoned.Inc()
		}
	}
}

// --- job submission ---

// SubmitJob validates and dispatches a script to a node, posting a
// placeholder reply message and wiring up the resulting Job.
func (c *Controller) SubmitJob(ctx context.Context, ev chat.MessageEvent, script string, filter job.Filter) error {
	if !denylist.Permit(script) {
		return c.reply(ctx, ev, ":x: That script matches a denylisted pattern and was not submitted.")
	}

	userLocus := c.Prefs.Get(ev.AuthorID).Locus
	n := c.Nodes.Pick(userLocus)
	if n == nil {
		return c.reply(ctx, ev, ":x: No nodes are available at the moment.")
	}

	display, messageID, err := c.Chat.Reply(ctx, ev.ChannelID, ev.MessageID, ev.AuthorID, "Your job is starting...")
	if err != nil {
		return fmt.Errorf("post job placeholder: %w", err)
	}

	if !n.CanAcceptJobs() {
		rj := job.NewRefusedJob(display, n.Name)
		c.Logger.Info("refused submission to ejected node", zap.String("job", rj.String()))
		return display.Edit(ctx, fmt.Sprintf("Your job was not submitted because node %s has been ejected.\nPlease select another node.", n.Name))
	}

	j := c.Jobs.NewJob(ctx, display, n.Name, filter)
	j.Author = ev.AuthorName
	if tty := c.Prefs.Get(ev.AuthorID).TTY; tty != nil {
		j.SetTerminal(term.New(tty.Columns, tty.Lines))
	}
	c.mu.Lock()
	c.jobReplyIndex[messageID] = j.JID
	c.mu.Unlock()

	if c.Metrics != nil {
		c.Metrics.JobsSubmitted.Inc()
		c.Metrics.JobsActive.Set(float64(len(c.Jobs.All())))
	}

	payload, _ := json.Marshal(map[string]string{"script": script})
	topic := fmt.Sprintf("%s/submit/%d", n.Name, j.JID)
	if err := c.Broker.Publish(ctx, topic, payload); err != nil {
		c.Logger.Error("error publishing job submission", zap.Error(&BrokerError{Topic: topic, Err: err}))
		return display.Edit(ctx, fmt.Sprintf("**Couldn't submit job**: %s", err.Error()))
	}
	return nil
}

func (c *Controller) reply(ctx context.Context, ev chat.MessageEvent, content string) error {
	_, _, err := c.Chat.Reply(ctx, ev.ChannelID, ev.MessageID, ev.AuthorID, content)
	return err
}

// JobForReply finds the job whose display message is the one ev
// replies to, or nil if there isn't one. Reply-to-stdin and the
// job-control commands resolve their target this way.
func (c *Controller) JobForReply(ev chat.MessageEvent) *job.Job {
	if ev.RepliedToID == "" {
		return nil
	}
	c.mu.Lock()
	jid, ok := c.jobReplyIndex[ev.RepliedToID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	j, ok := c.Jobs.ByJID(jid)
	if !ok {
		return nil
	}
	return j
}

// FastfetchScript is the two-pass fastfetch invocation submitted by
// the `$neofetch` flex override, joined by outputfmt.FastfetchFilter
// on the way back.
const FastfetchScript = "fastfetch --pipe false -s none\n" +
	"echo '===snip==='\n" +
	"fastfetch --pipe false -l none -s 'Title:Separator:OS:Host:Kernel:Uptime:Packages:CPU:Memory:Swap:Disk:LocalIp:Locale:Break'\n"
