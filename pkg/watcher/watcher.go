// Package watcher ties the kill feed, the map topology and the notification
// sink together.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hervehildenbrand/kill-radar/pkg/filter"
	"github.com/hervehildenbrand/kill-radar/pkg/killmemory"
	"github.com/hervehildenbrand/kill-radar/pkg/models"
	"github.com/hervehildenbrand/kill-radar/pkg/notify"
	"github.com/hervehildenbrand/kill-radar/pkg/routing"
	"github.com/hervehildenbrand/kill-radar/pkg/subscription"
	"github.com/hervehildenbrand/kill-radar/pkg/zkillfeed"
)

const (
	DefaultRefreshInterval = 30 * time.Second
	DefaultProcessTimeout  = 30 * time.Second

	killURLFormat = "https://zkillboard.com/kill/%d/"
)

// wormholeName matches J-space system names.
var wormholeName = regexp.MustCompile(`^J\d{6}`)

// Enricher resolves kill notifications into killmails and display names.
type Enricher interface {
	Killmail(ctx context.Context, killID int64, hash string) (*models.Killmail, error)
	System(ctx context.Context, systemID int32) (models.SystemInfo, error)
	TypeName(ctx context.Context, typeID int32) (string, error)
	Corporation(ctx context.Context, corpID int32) (models.Corporation, *models.Alliance, error)
}

// TopologySource provides the monitored map in one consistent read.
type TopologySource interface {
	Topology(ctx context.Context) (models.TopologySnapshot, error)
}

// Feed accepts subscription commands.
type Feed interface {
	Send(cmds ...subscription.Command) error
}

// RallySetter sets validated rally points.
type RallySetter interface {
	Set(ctx context.Context, systemID int32) (models.RallyPoint, error)
}

// Deps are the collaborators of a Watcher.
type Deps struct {
	Topology      TopologySource
	Feed          Feed
	Enricher      Enricher
	Sink          notify.Sink
	Rally         RallySetter
	Router        *routing.Router
	Subscriptions *subscription.Manager
	Filters       *filter.Engine
	Memory        *killmemory.Memory
}

// Options tune alerting and scheduling.
type Options struct {
	RefreshInterval time.Duration
	ProcessTimeout  time.Duration

	// PingRoleID is mentioned in alerts when set.
	PingRoleID string
	// PingOnlyWormhole limits the mention to kills in J-space.
	PingOnlyWormhole bool
}

// Watcher runs the refresh loop and the kill pipeline.
type Watcher struct {
	Deps
	opts Options
	log  *logrus.Entry
	now  func() time.Time

	refreshes uint64
	processed uint64
	alerted   uint64
}

// New creates a Watcher.
func New(deps Deps, opts Options, log *logrus.Logger) *Watcher {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = DefaultProcessTimeout
	}
	return &Watcher{
		Deps: deps,
		opts: opts,
		log:  log.WithField("component", "watcher"),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Refresh pulls one topology snapshot and applies it to both the
// subscriptions and the router. On error nothing is changed.
func (w *Watcher) Refresh(ctx context.Context) error {
	snap, err := w.Topology.Topology(ctx)
	if err != nil {
		refreshFailures.Inc()
		return fmt.Errorf("refresh topology: %w", err)
	}

	cmds := w.Subscriptions.Update(snap.ActiveIDs())
	if len(cmds) > 0 {
		// The feed keeps the channel set and replays it on reconnect.
		if err := w.Feed.Send(cmds...); err != nil {
			w.log.WithError(err).Warn("Failed to send subscription commands")
		}
	}

	stats := w.Router.Rebuild(snap)
	atomic.AddUint64(&w.refreshes, 1)
	activeSystems.Set(float64(len(snap.Systems)))
	reachableSystems.Set(float64(stats.Reachable))

	w.log.WithFields(logrus.Fields{
		"systems":     len(snap.Systems),
		"connections": len(snap.Connections),
		"reachable":   stats.Reachable,
		"commands":    len(cmds),
	}).Debug("Topology refreshed")
	return nil
}

// RunRefresh refreshes on every tick until ctx is done. The caller does the
// initial Refresh. Failed ticks are logged and skipped.
func (w *Watcher) RunRefresh(ctx context.Context) {
	ticker := time.NewTicker(w.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Refresh(ctx); err != nil {
				w.log.WithError(err).Warn("Refresh failed")
			}
		}
	}
}

// Consume processes feed events one at a time until events is closed or
// ctx is done. A failed event is logged and dropped.
func (w *Watcher) Consume(ctx context.Context, events <-chan zkillfeed.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev zkillfeed.Event) {
	switch e := ev.(type) {
	case *zkillfeed.StatusMessage:
		w.log.WithFields(logrus.Fields{"status": e.Status, "players": e.Players}).Debug("Server status")
	case *zkillfeed.KillNotification:
		ctx, cancel := context.WithTimeout(ctx, w.opts.ProcessTimeout)
		defer cancel()
		if _, err := w.HandleKill(ctx, e); err != nil {
			enrichmentFailures.Inc()
			w.log.WithError(err).WithField("kill_id", e.KillID).Warn("Dropping kill")
		}
	}
}

// HandleKill enriches, filters, remembers, routes and delivers one kill.
// A filtered kill returns a nil alert and no error.
func (w *Watcher) HandleKill(ctx context.Context, kn *zkillfeed.KillNotification) (*notify.Alert, error) {
	killsReceived.Inc()
	atomic.AddUint64(&w.processed, 1)
	log := w.log.WithField("kill_id", kn.KillID)

	km, err := w.Enricher.Killmail(ctx, kn.KillID, kn.Hash)
	if err != nil {
		return nil, err
	}
	system, err := w.Enricher.System(ctx, km.SolarSystemID)
	if err != nil {
		return nil, err
	}

	verdict, rule := w.Filters.Evaluate(filter.Input{Killmail: km, SecurityStatus: system.SecurityStatus})
	if !verdict.Keep {
		killsFiltered.WithLabelValues(rule).Inc()
		log.WithFields(logrus.Fields{"rule": rule, "reason": verdict.Reason}).Info("Killmail filtered")
		return nil, nil
	}

	w.Memory.Remember(kn.KillID, km.SolarSystemID)
	killMemorySize.Set(float64(w.Memory.Len()))

	alert, err := w.buildAlert(ctx, kn, km, system)
	if err != nil {
		return nil, err
	}

	if err := w.Sink.Notify(ctx, alert); err != nil {
		return nil, fmt.Errorf("deliver alert: %w", err)
	}
	alertsSent.Inc()
	atomic.AddUint64(&w.alerted, 1)

	log.WithFields(logrus.Fields{
		"system_id": km.SolarSystemID,
		"jumps":     alert.Jumps,
	}).Info("Alert sent")
	return &alert, nil
}

func (w *Watcher) buildAlert(ctx context.Context, kn *zkillfeed.KillNotification, km *models.Killmail, system models.SystemInfo) (notify.Alert, error) {
	shipName, err := w.Enricher.TypeName(ctx, km.Victim.ShipTypeID)
	if err != nil {
		return notify.Alert{}, err
	}

	corp, err := w.attackingCorporation(ctx, km.Attackers)
	if err != nil {
		return notify.Alert{}, err
	}

	route := w.Router.ShortestRoute(km.SolarSystemID)
	names := []string{}
	if route.Reachable() {
		names, err = w.Router.RenderRouteNames(ctx, route.Route)
		if err != nil {
			return notify.Alert{}, err
		}
	}

	url := kn.URL
	if url == "" {
		url = fmt.Sprintf(killURLFormat, kn.KillID)
	}

	return notify.Alert{
		KillID:        kn.KillID,
		URL:           url,
		ShipTypeID:    km.Victim.ShipTypeID,
		ShipName:      shipName,
		SystemName:    system.Name,
		SystemAlias:   w.Router.Alias(km.SolarSystemID),
		Attackers:     len(km.Attackers),
		Delay:         elapsed(w.now(), km.Time),
		AttackingCorp: corp,
		Route:         names,
		Jumps:         route.Distance,
		Ping:          w.ping(system.Name),
	}, nil
}

// attackingCorporation renders the most frequent attacker corporation with
// its alliance, or notify.NPC when no attacker has one.
func (w *Watcher) attackingCorporation(ctx context.Context, attackers []models.Attacker) (string, error) {
	corpID, ok := PrimaryCorporation(attackers)
	if !ok {
		return notify.NPC, nil
	}
	corp, alliance, err := w.Enricher.Corporation(ctx, corpID)
	if err != nil {
		return "", err
	}
	if alliance != nil {
		return corp.Name + " (" + alliance.Name + ")", nil
	}
	return corp.Name, nil
}

func (w *Watcher) ping(systemName string) string {
	if w.opts.PingRoleID == "" {
		return ""
	}
	if w.opts.PingOnlyWormhole && !wormholeName.MatchString(systemName) {
		return ""
	}
	return "<@&" + w.opts.PingRoleID + "> "
}

// PrimaryCorporation returns the corporation with the most attackers. Ties
// go to the corporation seen first.
func PrimaryCorporation(attackers []models.Attacker) (int32, bool) {
	counts := make(map[int32]int)
	var order []int32
	for _, a := range attackers {
		if a.CorporationID == nil {
			continue
		}
		id := *a.CorporationID
		if counts[id] == 0 {
			order = append(order, id)
		}
		counts[id]++
	}
	if len(order) == 0 {
		return 0, false
	}

	best := order[0]
	for _, id := range order[1:] {
		if counts[id] > counts[best] {
			best = id
		}
	}
	return best, true
}

// elapsed returns |now - t| truncated to whole seconds.
func elapsed(now, t time.Time) time.Duration {
	d := now.Sub(t)
	if d < 0 {
		d = -d
	}
	return d.Truncate(time.Second)
}

// SetRallyFromKill makes the system of a kill the rally point. Kills not in
// memory are fetched (hash via zKillboard) and remembered. The returned
// message is also posted to the sink. models.ErrSystemNotActive comes back
// with the "no longer on the map" message.
func (w *Watcher) SetRallyFromKill(ctx context.Context, killID int64) (string, error) {
	log := w.log.WithField("kill_id", killID)

	systemID, err := w.Memory.Lookup(killID)
	if errors.Is(err, models.ErrKillNotFound) {
		log.Info("Kill not remembered, asking zkillboard")
		km, err := w.Enricher.Killmail(ctx, killID, "")
		if err != nil {
			rallyRequests.WithLabelValues("error").Inc()
			return "", fmt.Errorf("locate kill %d: %w", killID, err)
		}
		systemID = km.SolarSystemID
		w.Memory.Remember(killID, systemID)
		killMemorySize.Set(float64(w.Memory.Len()))
	}

	name := fmt.Sprintf("%d", systemID)
	if info, err := w.Enricher.System(ctx, systemID); err == nil && info.Name != "" {
		name = info.Name
	} else if err != nil {
		log.WithError(err).WithField("system_id", systemID).Debug("System name lookup failed")
	}

	var message string
	_, err = w.Rally.Set(ctx, systemID)
	switch {
	case err == nil:
		rallyRequests.WithLabelValues("set").Inc()
		message = fmt.Sprintf("Rally point set to %s.", name)
		log.WithFields(logrus.Fields{
			"system_id": systemID,
			"jumps":     w.Router.Distance(systemID),
		}).Info("Rally point set")
	case errors.Is(err, models.ErrSystemNotActive):
		rallyRequests.WithLabelValues("not_on_map").Inc()
		message = fmt.Sprintf("Could not set rally point. System %s no longer on the map.", name)
	default:
		rallyRequests.WithLabelValues("error").Inc()
		return "", err
	}

	if serr := w.Sink.Text(ctx, message); serr != nil {
		log.WithError(serr).Warn("Failed to post rally message")
	}
	return message, err
}

// Stats returns current statistics.
func (w *Watcher) Stats() map[string]interface{} {
	return map[string]interface{}{
		"refreshes":  atomic.LoadUint64(&w.refreshes),
		"processed":  atomic.LoadUint64(&w.processed),
		"alerted":    atomic.LoadUint64(&w.alerted),
		"memory":     w.Memory.Len(),
		"subscribed": len(w.Subscriptions.Snapshot()),
		"root":       w.Router.Root(),
	}
}
