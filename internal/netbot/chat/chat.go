// Package chat defines what the poll loop needs from a chat room.
package chat

import (
	"context"
	"strconv"
	"time"
)

// Message is one text message read from the room.
type Message struct {
	// ID is the event identifier of the message (the original message for
	// edits).
	ID string
	// DedupKey identifies this version of the message: the event ID, or
	// "{ID}@{editTimestamp}" for an edit.
	DedupKey  string
	Sender    string
	Text      string
	FromSelf  bool
	Edited    bool
	Timestamp time.Time
}

// EditKey returns the dedupe key of an edit of id made at ts.
func EditKey(id string, ts time.Time) string {
	return id + "@" + strconv.FormatInt(ts.UnixMilli(), 10)
}

// Room is a chat room the bot reads commands from and answers in.
type Room interface {
	// Poll returns the most recent text messages, oldest first. The window
	// overlaps earlier polls; callers dedupe by DedupKey.
	Poll(ctx context.Context) ([]Message, error)
	Send(ctx context.Context, text string) error
	// SendFile uploads the file at path and posts it with caption.
	SendFile(ctx context.Context, path, caption string) error
}
