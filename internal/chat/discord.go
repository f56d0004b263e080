package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// wrapREST converts a discordgo REST failure into an HTTPError carrying
// the status code; other errors pass through unchanged.
func wrapREST(err error) error {
	if err == nil {
		return nil
	}
	var re *discordgo.RESTError
	if errors.As(err, &re) && re.Response != nil {
		return &HTTPError{StatusCode: re.Response.StatusCode, Message: string(re.ResponseBody)}
	}
	return err
}

// DiscordAdapter backs Adapter with a bwmarrin/discordgo session.
type DiscordAdapter struct {
	session *discordgo.Session
	guildID string
	logger  *zap.Logger
}

// NewDiscordAdapter creates a session for the given bot token and
// guild, with the message-content intent enabled (required to read
// command text under Discord's privileged-intent rules).
func NewDiscordAdapter(token, guildID string, logger *zap.Logger) (*DiscordAdapter, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	return &DiscordAdapter{session: session, guildID: guildID, logger: logger}, nil
}

// Open establishes the websocket connection.
func (d *DiscordAdapter) Open(ctx context.Context) error {
	return d.session.Open()
}

// Close tears the session down.
func (d *DiscordAdapter) Close() error {
	return d.session.Close()
}

// OnMessage registers a handler for every non-bot MessageCreate event.
func (d *DiscordAdapter) OnMessage(handler func(MessageEvent)) {
	d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		handler(toMessageEvent(m))
	})
}

func toMessageEvent(m *discordgo.MessageCreate) MessageEvent {
	ev := MessageEvent{
		AuthorID:   m.Author.ID,
		AuthorName: displayName(m.Member, m.Author),
		ChannelID:  m.ChannelID,
		Content:    m.Content,
		RoleIDs:    nil,
		MessageID:  m.ID,
	}
	if m.Member != nil {
		ev.RoleIDs = m.Member.Roles
	}
	if m.Type == discordgo.MessageTypeReply && m.MessageReference != nil {
		ev.RepliedToID = m.MessageReference.MessageID
	}
	for _, a := range m.Attachments {
		ev.Attachments = append(ev.Attachments, Attachment{Filename: a.Filename, URL: a.URL})
	}
	return ev
}

func displayName(member *discordgo.Member, author *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	return author.Username
}

// Reply posts content as a reply and returns a Display bound to it.
func (d *DiscordAdapter) Reply(ctx context.Context, channelID, messageID, authorID, content string) (Display, string, error) {
	msg, err := d.session.ChannelMessageSendReply(channelID, content, &discordgo.MessageReference{
		MessageID: messageID,
		ChannelID: channelID,
		GuildID:   d.guildID,
	})
	if err != nil {
		return nil, "", wrapREST(err)
	}
	disp := &discordDisplay{
		session:   d.session,
		guildID:   d.guildID,
		channelID: channelID,
		messageID: msg.ID,
		authorID:  authorID,
	}
	return disp, msg.ID, nil
}

// ReplyFile posts a file attachment as a reply.
func (d *DiscordAdapter) ReplyFile(ctx context.Context, channelID, messageID, filename string, data []byte) error {
	_, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Files: []*discordgo.File{{Name: filename, Reader: strings.NewReader(string(data))}},
		Reference: &discordgo.MessageReference{
			MessageID: messageID,
			ChannelID: channelID,
			GuildID:   d.guildID,
		},
	})
	return wrapREST(err)
}

// SendToChannel posts a standalone message.
func (d *DiscordAdapter) SendToChannel(ctx context.Context, channelID, content string) error {
	_, err := d.session.ChannelMessageSend(channelID, content)
	return wrapREST(err)
}

// ResolveChannel reports whether the session can see the given
// channel.
func (d *DiscordAdapter) ResolveChannel(channelID string) bool {
	ch, err := d.session.State.Channel(channelID)
	return err == nil && ch != nil
}

// discordDisplay is the per-job Display backed by one Discord message.
type discordDisplay struct {
	session   *discordgo.Session
	guildID   string
	channelID string
	messageID string
	authorID  string
}

func (d *discordDisplay) Edit(ctx context.Context, content string) error {
	_, err := d.session.ChannelMessageEdit(d.channelID, d.messageID, content)
	return wrapREST(err)
}

func (d *discordDisplay) Attach(ctx context.Context, filename string, data []byte) error {
	edit := discordgo.NewMessageEdit(d.channelID, d.messageID)
	edit.Files = []*discordgo.File{{
		Name:   filename,
		Reader: strings.NewReader(string(data)),
	}}
	_, err := d.session.ChannelMessageEditComplex(edit)
	return wrapREST(err)
}

func (d *discordDisplay) NotifyAuthor(ctx context.Context, content string) error {
	if d.authorID == "" {
		_, err := d.session.ChannelMessageSend(d.channelID, content)
		return wrapREST(err)
	}
	_, err := d.session.ChannelMessageSend(d.channelID, fmt.Sprintf("<@%s> %s", d.authorID, content))
	return wrapREST(err)
}

func (d *discordDisplay) URL() string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", d.guildID, d.channelID, d.messageID)
}
