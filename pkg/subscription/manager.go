// Package subscription keeps the feed's system channels in step with the
// systems currently on the monitored map.
package subscription

import (
	"encoding/json"
	"sort"
	"strconv"
	"sync"

	"github.com/hervehildenbrand/kill-radar/pkg/models"
)

// Feed control actions
const (
	ActionSubscribe   = "sub"
	ActionUnsubscribe = "unsub"
)

// Command is a feed control frame.
type Command struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// Subscribe returns the frame subscribing to channel.
func Subscribe(channel string) Command {
	return Command{Action: ActionSubscribe, Channel: channel}
}

// Unsubscribe returns the frame unsubscribing from channel.
func Unsubscribe(channel string) Command {
	return Command{Action: ActionUnsubscribe, Channel: channel}
}

// SystemChannel returns the feed channel carrying kills of one system.
func SystemChannel(systemID int32) string {
	return models.ChannelSystemPrefix + strconv.FormatInt(int64(systemID), 10)
}

// JSON encodes the command as sent on the wire.
func (c Command) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Manager tracks the last successfully fetched set of active systems.
type Manager struct {
	mu       sync.Mutex
	previous map[int32]struct{}
}

// NewManager creates a manager with an empty snapshot, so the first update
// subscribes to every active system.
func NewManager() *Manager {
	return &Manager{previous: make(map[int32]struct{})}
}

// Update diffs current against the previous snapshot and replaces it.
// Unsubscribes come first; each group is sorted by system id.
func (m *Manager) Update(current []int32) []Command {
	next := make(map[int32]struct{}, len(current))
	for _, id := range current {
		next[id] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := difference(m.previous, next)
	added := difference(next, m.previous)
	m.previous = next

	cmds := make([]Command, 0, len(removed)+len(added))
	for _, id := range removed {
		cmds = append(cmds, Unsubscribe(SystemChannel(id)))
	}
	for _, id := range added {
		cmds = append(cmds, Subscribe(SystemChannel(id)))
	}
	return cmds
}

// Snapshot returns the active systems of the last successful update, sorted.
func (m *Manager) Snapshot() []int32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]int32, 0, len(m.previous))
	for id := range m.previous {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// difference returns a - b, sorted.
func difference(a, b map[int32]struct{}) []int32 {
	var out []int32
	for id := range a {
		if _, ok := b[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
