// Package matrix connects the bot to one Matrix room: it reads recent
// messages with /messages and answers with text, notices and files.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Netbot/common/retry"
	"github.com/bdobrica/Netbot/internal/netbot/chat"
)

// DefaultPollLimit is how many recent events one poll reads.
const DefaultPollLimit = 30

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// RoomID is the room the bot reads commands from and replies in.
	RoomID    string
	PollLimit int
	ChunkSize int
	// Retry controls send and join retries; the zero value uses
	// retry.DefaultConfig.
	Retry retry.Config
}

// Client implements chat.Room on a Matrix room.
type Client struct {
	client *mautrix.Client
	config Config
	room   id.RoomID
	self   id.UserID
}

var _ chat.Room = (*Client)(nil)

// New creates a Matrix client. It does not contact the homeserver.
func New(config Config) (*Client, error) {
	if config.RoomID == "" {
		return nil, errors.New("matrix room id is required")
	}
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}
	if config.PollLimit <= 0 {
		config.PollLimit = DefaultPollLimit
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = chat.DefaultChunkSize
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.DefaultConfig
	}
	return &Client{
		client: client,
		config: config,
		room:   id.RoomID(config.RoomID),
		self:   id.UserID(config.UserID),
	}, nil
}

// isTransient reports whether a failed request is worth repeating.
// Authorization failures never heal on their own.
func isTransient(err error) bool {
	return !errors.Is(err, mautrix.MForbidden) &&
		!errors.Is(err, mautrix.MUnknownToken) &&
		!errors.Is(err, mautrix.MMissingToken) &&
		!errors.Is(err, context.Canceled)
}

// classify stops retry.Do on errors that are not transient.
func classify(err error) error {
	if err != nil && !isTransient(err) {
		return retry.Permanent(err)
	}
	return err
}

// Join joins the command room and, when set, the audit room.
func (c *Client) Join(ctx context.Context, extraRooms ...string) error {
	rooms := append([]id.RoomID{c.room}, toRoomIDs(extraRooms)...)
	for _, room := range rooms {
		if err := c.joinRoom(ctx, room); err != nil {
			return fmt.Errorf("failed to join room %s: %w", room, err)
		}
	}
	return nil
}

func toRoomIDs(rooms []string) []id.RoomID {
	out := make([]id.RoomID, 0, len(rooms))
	for _, r := range rooms {
		if r != "" {
			out = append(out, id.RoomID(r))
		}
	}
	return out
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	return retry.Do(ctx, c.config.Retry, func() error {
		_, err := c.client.JoinRoomByID(ctx, roomID)
		if err != nil {
			// M_FORBIDDEN is returned by homeservers when the bot is already a member
			// of the room.
			if errors.Is(err, mautrix.MForbidden) {
				slog.Warn("matrix: already a member or access denied, continuing", "room", roomID)
				return nil
			}
			return classify(err)
		}
		return nil
	})
}

// Poll reads the latest PollLimit events of the room and returns its text
// messages oldest first.
func (c *Client) Poll(ctx context.Context) ([]chat.Message, error) {
	resp, err := c.client.Messages(ctx, c.room, "", "", mautrix.DirectionBackward, nil, c.config.PollLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return toMessages(resp.Chunk, c.self), nil
}

// toMessages converts a newest-first /messages chunk into chat messages,
// oldest first. Non-text events are skipped.
func toMessages(events []*event.Event, self id.UserID) []chat.Message {
	out := make([]chat.Message, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		evt := events[i]
		if evt == nil || evt.Type != event.EventMessage {
			continue
		}
		if evt.Content.Parsed == nil {
			if err := evt.Content.ParseRaw(evt.Type); err != nil {
				slog.Debug("matrix: skipping unparsable event", "event", evt.ID, "err", err)
				continue
			}
		}
		msg, ok := evt.Content.Parsed.(*event.MessageEventContent)
		if !ok || msg == nil {
			continue
		}

		m := chat.Message{
			ID:        evt.ID.String(),
			DedupKey:  evt.ID.String(),
			Sender:    evt.Sender.String(),
			FromSelf:  evt.Sender == self,
			Timestamp: time.UnixMilli(evt.Timestamp),
			Text:      msg.Body,
		}
		if orig := msg.RelatesTo.GetReplaceID(); orig != "" {
			m.ID = orig.String()
			m.DedupKey = chat.EditKey(orig.String(), m.Timestamp)
			m.Edited = true
			if msg.NewContent != nil {
				msg = msg.NewContent
				m.Text = msg.Body
			}
		}
		if msg.MsgType != event.MsgText {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (c *Client) send(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) error {
	return retry.Do(ctx, c.config.Retry, func() error {
		_, err := c.client.SendMessageEvent(ctx, roomID, event.EventMessage, content)
		return classify(err)
	})
}

// Send posts text to the command room, split into chunks when long.
func (c *Client) Send(ctx context.Context, text string) error {
	for _, chunk := range chat.Split(text, c.config.ChunkSize) {
		content := &event.MessageEventContent{MsgType: event.MsgText, Body: chunk}
		if err := c.send(ctx, c.room, content); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
	}
	return nil
}

// SendNotice posts a notice to roomID.
func (c *Client) SendNotice(ctx context.Context, roomID, message string) error {
	content := &event.MessageEventContent{MsgType: event.MsgNotice, Body: message}
	if err := c.send(ctx, id.RoomID(roomID), content); err != nil {
		return fmt.Errorf("failed to send notice: %w", err)
	}
	return nil
}

// SendFile uploads the file at path and posts it as an m.file event whose
// body is caption.
func (c *Client) SendFile(ctx context.Context, path, caption string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	name := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	var uploaded *mautrix.RespMediaUpload
	err = retry.Do(ctx, c.config.Retry, func() error {
		var err error
		uploaded, err = c.client.UploadBytesWithName(ctx, data, contentType, name)
		return classify(err)
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}

	if caption == "" {
		caption = name
	}
	content := &event.MessageEventContent{
		MsgType:  event.MsgFile,
		Body:     caption,
		FileName: name,
		URL:      uploaded.ContentURI.CUString(),
		Info: &event.FileInfo{
			MimeType: contentType,
			Size:     len(data),
		},
	}
	if err := c.send(ctx, c.room, content); err != nil {
		return fmt.Errorf("failed to send file: %w", err)
	}
	return nil
}

// UserID returns the bot's own user ID.
func (c *Client) UserID() string {
	return c.self.String()
}
