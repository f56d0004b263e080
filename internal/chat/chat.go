// Package chat is the chat-platform boundary the grid controller
// talks through: posting and editing messages, and delivering incoming
// messages with the reply, role and channel data internal/grid uses to
// route and gate them.
// Only the discordgo-backed adapter in this package talks to Discord;
// internal/grid and internal/job see only the small interfaces it
// satisfies (job.Display, and the MessageEvent/Adapter types below).
package chat

import (
	"context"
	"fmt"
)

// HTTPError is a chat-platform HTTP failure with its status code, so
// callers can tell rate limits and server errors apart from permanent
// failures when deciding whether to retry.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("chat error: status %d - %s", e.StatusCode, e.Message)
}

// Attachment is a file posted alongside a chat message, e.g. for
// `!upload`.
type Attachment struct {
	Filename string
	URL      string
}

// MessageEvent is one incoming chat message, platform-agnostic enough
// for internal/grid's dispatcher to route on.
type MessageEvent struct {
	AuthorID    string
	AuthorName  string
	ChannelID   string
	Content     string
	RoleIDs     []string
	RepliedToID string // empty unless this message is a reply
	MessageID   string
	Attachments []Attachment
}

// Adapter is the chat-platform boundary: posting, replying, and
// dispatch registration. internal/grid depends only on this
// interface; the concrete discordgo session lives behind it.
type Adapter interface {
	// Open establishes the chat session and blocks until it is ready.
	Open(ctx context.Context) error
	Close() error

	// OnMessage registers a handler invoked for every non-bot message
	// in any channel the session can see.
	OnMessage(handler func(MessageEvent))

	// Reply posts content as a reply to the message identified by
	// channelID/messageID and returns a Display bound to the new
	// message (plus that message's own ID, so callers can index
	// replies back to it), for the job whose output it will show.
	// authorID is the user the Display's NotifyAuthor will mention.
	Reply(ctx context.Context, channelID, messageID, authorID, content string) (display Display, newMessageID string, err error)

	// ReplyFile posts a file as a reply to the message identified by
	// channelID/messageID, e.g. the rules document.
	ReplyFile(ctx context.Context, channelID, messageID, filename string, data []byte) error

	// SendToChannel posts a standalone message, used for node
	// connect/disconnect announcements.
	SendToChannel(ctx context.Context, channelID, content string) error

	// ResolveChannel maps a configured channel ID to a usable channel
	// handle; ok is false if the bot cannot see that channel.
	ResolveChannel(channelID string) (ok bool)
}

// Display is the per-message handle a job renders itself onto. It is
// the same contract internal/job.Display names; defined again here to
// avoid a dependency from internal/chat back to internal/job.
type Display interface {
	Edit(ctx context.Context, content string) error
	Attach(ctx context.Context, filename string, data []byte) error
	NotifyAuthor(ctx context.Context, content string) error
	URL() string
}
