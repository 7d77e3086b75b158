// Package notify delivers kill alerts and follow-up messages to operators.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hervehildenbrand/kill-radar/pkg/routing"
)

// NPC is shown as attacking corporation when no attacker belongs to one.
const NPC = "NPC"

// Alert is a rendered kill alert.
type Alert struct {
	KillID        int64
	URL           string
	ShipTypeID    int32
	ShipName      string
	SystemName    string
	SystemAlias   string // map alias, may be empty
	Attackers     int
	Delay         time.Duration
	AttackingCorp string   // "Corp (Alliance)", "Corp" or NPC
	Route         []string // rendered hop names, empty when unreachable or at the root
	Jumps         int      // models.Unreachable when no route exists
	Ping          string   // role mention, may be empty
}

// Location is the system name followed by its map alias, if any.
func (a Alert) Location() string {
	if a.SystemAlias == "" {
		return a.SystemName
	}
	return a.SystemName + " (" + a.SystemAlias + ")"
}

// Title is the headline of the alert.
func (a Alert) Title() string {
	return "Killping - " + a.ShipName
}

// ImageURL is the render of the destroyed hull.
func (a Alert) ImageURL() string {
	return fmt.Sprintf("https://images.evetech.net/types/%d/render?size=64", a.ShipTypeID)
}

// Sink receives alerts and plain text messages.
type Sink interface {
	Notify(ctx context.Context, alert Alert) error
	Text(ctx context.Context, message string) error
}

// LogSink writes alerts to the log. Used when no webhook is configured.
type LogSink struct {
	log *logrus.Entry
}

// NewLogSink creates a LogSink.
func NewLogSink(log *logrus.Logger) *LogSink {
	return &LogSink{log: log.WithField("component", "notify")}
}

func (s *LogSink) Notify(_ context.Context, a Alert) error {
	s.log.WithFields(logrus.Fields{
		"kill_id":   a.KillID,
		"system":    a.Location(),
		"ship":      a.ShipName,
		"attackers": a.Attackers,
		"delay":     a.Delay.String(),
		"corp":      a.AttackingCorp,
		"route":     routing.FormatRoute(a.Route),
		"jumps":     a.Jumps,
		"url":       a.URL,
	}).Warn(a.Title())
	return nil
}

func (s *LogSink) Text(_ context.Context, message string) error {
	s.log.Info(message)
	return nil
}
