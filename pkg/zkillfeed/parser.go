package zkillfeed

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ActionStatus marks a server heartbeat on the public channel.
const ActionStatus = "tqStatus"

// ErrUnknownMessage is returned for well-formed JSON that is neither a
// status message nor a kill notification.
var ErrUnknownMessage = errors.New("unknown feed message")

// Event is a parsed feed message: *StatusMessage or *KillNotification.
type Event interface {
	event()
}

// StatusMessage is the periodic server status heartbeat.
type StatusMessage struct {
	Status  string `json:"tqStatus"`
	Players string `json:"tqCount"`
	Kills   int    `json:"kills"`
}

// KillNotification announces a new killmail. Hash may be empty.
type KillNotification struct {
	KillID int64
	Hash   string
	URL    string
}

func (*StatusMessage) event()    {}
func (*KillNotification) event() {}

// feedMessage covers both the short notification format
// ({"killID", "hash", "url"}) and full killmails carrying a zkb block.
type feedMessage struct {
	Action     string `json:"action"`
	KillID     int64  `json:"killID"`
	Hash       string `json:"hash"`
	URL        string `json:"url"`
	KillmailID int64  `json:"killmail_id"`
	ZKB        *struct {
		Hash string `json:"hash"`
		URL  string `json:"url"`
	} `json:"zkb"`
}

// ParseMessage parses a feed websocket message.
func ParseMessage(data []byte) (Event, error) {
	var msg feedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}

	if msg.Action == ActionStatus {
		var status StatusMessage
		if err := json.Unmarshal(data, &status); err != nil {
			return nil, fmt.Errorf("unmarshal status: %w", err)
		}
		return &status, nil
	}

	switch {
	case msg.KillID > 0:
		return &KillNotification{KillID: msg.KillID, Hash: msg.Hash, URL: msg.URL}, nil
	case msg.KillmailID > 0:
		kn := &KillNotification{KillID: msg.KillmailID}
		if msg.ZKB != nil {
			kn.Hash = msg.ZKB.Hash
			kn.URL = msg.ZKB.URL
		}
		return kn, nil
	}

	if msg.Action != "" {
		return nil, fmt.Errorf("%w: action %q", ErrUnknownMessage, msg.Action)
	}
	return nil, ErrUnknownMessage
}
