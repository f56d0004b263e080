package grid

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jtcave/gridmii/internal/chat"
	"github.com/jtcave/gridmii/internal/job"
	"github.com/jtcave/gridmii/internal/node"
	"github.com/jtcave/gridmii/internal/outputfmt"
	"github.com/jtcave/gridmii/internal/prefs"
	"github.com/jtcave/gridmii/internal/relay"
)

const (
	commandPrefix = "!"
	scriptPrefix  = "$"
)

// handleChatMessage is the top-level chat dispatcher: channel/ban
// gating, then structured command / flex script / reply-to-stdin
// routing.
func (c *Controller) handleChatMessage(ctx context.Context, ev chat.MessageEvent) {
	if !c.Config.ChannelAllowed(ev.ChannelID) {
		return
	}
	if c.Config.IsBanned(ev.AuthorID) {
		return
	}

	switch {
	case strings.HasPrefix(ev.Content, commandPrefix):
		c.dispatchCommand(ctx, ev)
	case strings.HasPrefix(ev.Content, scriptPrefix):
		script := ev.Content[len(scriptPrefix):]
		filter := job.Filter(outputfmt.EscapeBackticks)
		if strings.TrimSpace(script) == "neofetch" {
			// The neofetch override: run fastfetch twice and stitch the
			// logo and info panes back together for Discord.
			script = FastfetchScript
			filter = outputfmt.FastfetchFilter
		}
		if err := c.SubmitJob(ctx, ev, script, filter); err != nil {
			c.Logger.Error("flex command submission failed", zap.Error(err))
		}
	case ev.RepliedToID != "":
		c.handleReplyStdin(ctx, ev)
	}
}

func (c *Controller) handleReplyStdin(ctx context.Context, ev chat.MessageEvent) {
	j := c.JobForReply(ev)
	if j == nil {
		return
	}
	if err := j.Stdin(ctx, c.Broker, []byte(ev.Content)); err != nil {
		c.Logger.Error("error sending stdin", zap.Error(err))
	}
}

func (c *Controller) dispatchCommand(ctx context.Context, ev chat.MessageEvent) {
	fields := strings.Fields(ev.Content[len(commandPrefix):])
	if len(fields) == 0 {
		return
	}
	name, args := fields[0], fields[1:]

	if c.Metrics != nil {
		c.Metrics.CommandsTotal.WithLabelValues(name).Inc()
	}

	cmd, ok := commandTable[name]
	if !ok {
		return
	}
	if cmd.adminOnly && !c.Config.IsAdmin(ev.RoleIDs) {
		c.Logger.Info("admin command denied", zap.String("user", ev.AuthorName), zap.String("command", name))
		return
	}
	if err := cmd.run(c, ctx, ev, args); err != nil {
		c.Logger.Error("command handler error", zap.String("command", name), zap.Error(err))
	}
}

type command struct {
	adminOnly bool
	run       func(c *Controller, ctx context.Context, ev chat.MessageEvent, args []string) error
}

var commandTable = map[string]command{
	"yougood":  {run: (*Controller).cmdYouGood},
	"nodes":    {run: (*Controller).cmdNodes},
	"locus":    {run: (*Controller).cmdLocus},
	"jobs":     {run: (*Controller).cmdJobs},
	"term":     {run: (*Controller).cmdTerm},
	"rules":    {run: (*Controller).cmdRules},
	"jobinfo":  {run: (*Controller).cmdJobInfo},
	"eof":      {run: (*Controller).cmdEOF},
	"signal":   {run: (*Controller).cmdSignal},
	"kill":     {run: (*Controller).cmdKill},
	"ctrl-c":   {run: (*Controller).cmdCtrlC},
	"jobtail":  {run: (*Controller).cmdJobtail},
	"upload":   {run: (*Controller).cmdUpload},
	"download": {run: (*Controller).cmdDownload},

	"scram":    {adminOnly: true, run: (*Controller).cmdScram},
	"reload":   {adminOnly: true, run: (*Controller).cmdReload},
	"eject":    {adminOnly: true, run: (*Controller).cmdEject},
	"abandon":  {adminOnly: true, run: (*Controller).cmdAbandon},
	"rollcall": {adminOnly: true, run: (*Controller).cmdRollcall},
}

func (c *Controller) cmdYouGood(ctx context.Context, ev chat.MessageEvent, args []string) error {
	if c.Broker.Connected() {
		return c.reply(ctx, ev, ":+1:")
	}
	return c.reply(ctx, ev, ":-1: not connected to the broker")
}

func (c *Controller) cmdNodes(ctx context.Context, ev chat.MessageEvent, args []string) error {
	names := c.Nodes.Names()
	if len(names) == 0 {
		return c.reply(ctx, ev, "No nodes are online")
	}
	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, "* %s\n", n)
	}
	return c.reply(ctx, ev, strings.TrimRight(b.String(), "\n"))
}

func (c *Controller) cmdLocus(ctx context.Context, ev chat.MessageEvent, args []string) error {
	p := c.Prefs.Get(ev.AuthorID)
	if len(args) == 0 {
		if p.Locus == "" {
			return c.reply(ctx, ev, "You don't have a locus node set.")
		}
		if n, ok := c.Nodes.Get(p.Locus); ok && n.CanAcceptJobs() {
			return c.reply(ctx, ev, fmt.Sprintf("Commands are being sent to `%s`.", p.Locus))
		}
		return c.reply(ctx, ev, fmt.Sprintf(":warning: Commands are being sent to `%s`, but that node isn't present.", p.Locus))
	}

	target := args[0]
	candidates := c.Nodes.ByName(target)
	switch len(candidates) {
	case 0:
		return c.reply(ctx, ev, fmt.Sprintf(":x: `%s` is not in the node table.", target))
	case 1:
		c.Prefs.SetLocus(ev.AuthorID, candidates[0].Name)
		return c.reply(ctx, ev, fmt.Sprintf(":+1: Your commands will now run on `%s`", candidates[0].Name))
	default:
		return c.reply(ctx, ev, ambiguousNodesMessage(target, candidates))
	}
}

func (c *Controller) cmdJobs(ctx context.Context, ev chat.MessageEvent, args []string) error {
	jobs := c.Jobs.All()
	if len(jobs) == 0 {
		return c.reply(ctx, ev, "No jobs running")
	}
	var b strings.Builder
	for _, j := range jobs {
		elapsed := time.Since(j.StartTime()).Round(time.Second)
		fmt.Fprintf(&b, "* #%d, started by **%s**, on `%s`, running for **%s**, see %s\n",
			j.JID, j.Author, j.TargetNode, elapsed, j.URLHint())
	}
	return c.reply(ctx, ev, strings.TrimRight(b.String(), "\n"))
}

func (c *Controller) cmdTerm(ctx context.Context, ev chat.MessageEvent, args []string) error {
	p := c.Prefs.Get(ev.AuthorID)
	if len(args) == 0 {
		if p.TTY == nil {
			return c.reply(ctx, ev, "tty mode is currently off")
		}
		return c.reply(ctx, ev, fmt.Sprintf("TERM=%s, %d x %d", p.TTY.Term, p.TTY.Columns, p.TTY.Lines))
	}

	termName := args[0]
	if termName == "off" {
		c.Prefs.SetTTY(ev.AuthorID, nil)
		return c.reply(ctx, ev, ":+1: tty mode has been turned off")
	}
	if termName == "on" {
		termName = "dumb"
	}
	columns, lines := 40, 20
	if len(args) > 1 {
		if v, err := strconv.Atoi(args[1]); err == nil {
			columns = v
		}
	}
	if len(args) > 2 {
		if v, err := strconv.Atoi(args[2]); err == nil {
			lines = v
		}
	}
	c.Prefs.SetTTY(ev.AuthorID, &prefs.TTY{Term: termName, Columns: columns, Lines: lines})
	return c.reply(ctx, ev, fmt.Sprintf(":+1: tty mode has been turned on\nTERM=%s, %d x %d", termName, columns, lines))
}

// rulesPath is the static rules document served by `!rules`.
const rulesPath = "data/rules.md"

func (c *Controller) cmdRules(ctx context.Context, ev chat.MessageEvent, args []string) error {
	data, err := os.ReadFile(rulesPath)
	if err != nil {
		c.Logger.Error("rules file not found", zap.String("path", rulesPath), zap.Error(err))
		return c.reply(ctx, ev, "rules file not found")
	}
	return c.Chat.ReplyFile(ctx, ev.ChannelID, ev.MessageID, "rules.md", data)
}

func (c *Controller) cmdJobInfo(ctx context.Context, ev chat.MessageEvent, args []string) error {
	j := c.JobForReply(ev)
	if j == nil {
		return nil
	}
	return c.reply(ctx, ev, j.String())
}

func (c *Controller) cmdEOF(ctx context.Context, ev chat.MessageEvent, args []string) error {
	j := c.JobForReply(ev)
	if j == nil {
		return nil
	}
	return j.EOF(ctx, c.Broker)
}

func (c *Controller) cmdSignal(ctx context.Context, ev chat.MessageEvent, args []string) error {
	j := c.JobForReply(ev)
	if j == nil || len(args) == 0 {
		return nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return c.reply(ctx, ev, ":x: signal number must be an integer")
	}
	if err := j.Signal(ctx, c.Broker, n); err != nil {
		return err
	}
	return c.reply(ctx, ev, fmt.Sprintf("Sent signal %d to the job", n))
}

func (c *Controller) cmdKill(ctx context.Context, ev chat.MessageEvent, args []string) error {
	return c.cmdSignal(ctx, ev, []string{"9"})
}

func (c *Controller) cmdCtrlC(ctx context.Context, ev chat.MessageEvent, args []string) error {
	return c.cmdSignal(ctx, ev, []string{"2"})
}

func (c *Controller) cmdJobtail(ctx context.Context, ev chat.MessageEvent, args []string) error {
	j := c.JobForReply(ev)
	if j == nil {
		return nil
	}
	n := 5
	if len(args) > 0 {
		if v, err := strconv.Atoi(args[0]); err == nil {
			n = v
		}
	}
	lines := j.Tail(n + 1)
	output := fmt.Sprintf("```ansi\n%s\n```", strings.Join(lines, "\n"))
	if len(output) > 2000 {
		output = fmt.Sprintf("***Output too large***\nThe message would have been %d characters long, but only 2000 are allowed", len(output))
	}
	return c.reply(ctx, ev, output)
}

func (c *Controller) cmdUpload(ctx context.Context, ev chat.MessageEvent, args []string) error {
	if len(ev.Attachments) == 0 {
		return c.reply(ctx, ev, ":x: You need to attach one or more files")
	}
	if len(ev.Attachments) > 1 {
		return c.reply(ctx, ev, ":x: Currently only one file at a time can be uploaded")
	}
	script := relay.BuildFetchScript(ev.Attachments[0].URL)
	return c.SubmitJob(ctx, ev, script, outputfmt.EscapeBackticks)
}

func (c *Controller) cmdDownload(ctx context.Context, ev chat.MessageEvent, args []string) error {
	if !c.Relay.Enabled() {
		return c.reply(ctx, ev, ":x: File downloads are not currently available")
	}
	if len(args) == 0 {
		return c.reply(ctx, ev, ":x: usage: !download <path>")
	}
	uploadURL, downloadURL, err := c.Relay.PresignUpload(ctx, args[0])
	if err != nil {
		return c.reply(ctx, ev, fmt.Sprintf(":x: could not prepare upload: %s", err.Error()))
	}
	script := relay.BuildUploadScript(args[0], uploadURL)
	if err := c.SubmitJob(ctx, ev, script, outputfmt.EscapeBackticks); err != nil {
		return err
	}
	return c.reply(ctx, ev, fmt.Sprintf("When the job completes, the file will be at %s", downloadURL))
}

func (c *Controller) cmdScram(ctx context.Context, ev chat.MessageEvent, args []string) error {
	if err := c.Scram(ctx); err != nil {
		return c.reply(ctx, ev, fmt.Sprintf("**Couldn't send scram request**: %s", err.Error()))
	}
	return c.reply(ctx, ev, ":+1: wait for the jobs to complete")
}

func (c *Controller) cmdReload(ctx context.Context, ev chat.MessageEvent, args []string) error {
	if len(args) == 0 {
		return c.reply(ctx, ev, ":x: usage: !reload <node>")
	}
	candidates := c.Nodes.ByName(args[0])
	switch len(candidates) {
	case 0:
		return c.reply(ctx, ev, fmt.Sprintf(":x: node %s is not in the node table", args[0]))
	case 1:
		if err := c.Broker.Publish(ctx, fmt.Sprintf("%s/reload", candidates[0].Name), nil); err != nil {
			return err
		}
		return c.reply(ctx, ev, fmt.Sprintf(":+1: Reloaded `%s`", candidates[0].Name))
	default:
		return c.reply(ctx, ev, ambiguousNodesMessage(args[0], candidates))
	}
}

func (c *Controller) cmdEject(ctx context.Context, ev chat.MessageEvent, args []string) error {
	if len(args) == 0 {
		return c.reply(ctx, ev, ":x: usage: !eject <node>")
	}
	candidates := c.Nodes.ByName(args[0])
	switch len(candidates) {
	case 0:
		return c.reply(ctx, ev, fmt.Sprintf(":x: Node %s is not present", args[0]))
	case 1:
		n := candidates[0]
		c.Nodes.Eject(n.Name)
		if err := c.Broker.Publish(ctx, fmt.Sprintf("%s/exit", n.Name), nil); err != nil {
			c.Logger.Error("error publishing node exit", zap.Error(err))
		}
		return c.reply(ctx, ev, ":+1:")
	default:
		return c.reply(ctx, ev, ambiguousNodesMessage(args[0], candidates))
	}
}

func (c *Controller) cmdAbandon(ctx context.Context, ev chat.MessageEvent, args []string) error {
	if len(args) == 0 {
		return c.reply(ctx, ev, ":x: usage: !abandon <jid>")
	}
	jid, err := strconv.Atoi(args[0])
	if err != nil || !c.Jobs.JIDPresent(jid) {
		return c.reply(ctx, ev, fmt.Sprintf(":x: job #%s is not in the job table", args[0]))
	}
	j, _ := c.Jobs.ByJID(jid)
	if err := j.Abandon(ctx, c.Broker); err != nil {
		return err
	}
	if c.Metrics != nil {
		c.Metrics.JobsAbandoned.Inc()
	}
	return c.reply(ctx, ev, fmt.Sprintf(":+1: see %s", j.URLHint()))
}

func (c *Controller) cmdRollcall(ctx context.Context, ev chat.MessageEvent, args []string) error {
	c.RequestRollCall(ctx)
	return c.reply(ctx, ev, ":+1:")
}

// ambiguousNodesMessage lists every candidate a fuzzy node lookup
// matched, so the user can retype an unambiguous name.
func ambiguousNodesMessage(target string, candidates []*node.Node) string {
	names := make([]string, 0, len(candidates))
	for _, n := range candidates {
		names = append(names, n.Name)
	}
	return fmt.Sprintf(":question: `%s` is ambiguous and could be: %s", target, strings.Join(names, ", "))
}
