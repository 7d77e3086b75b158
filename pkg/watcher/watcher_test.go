package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hervehildenbrand/kill-radar/pkg/filter"
	"github.com/hervehildenbrand/kill-radar/pkg/killmemory"
	"github.com/hervehildenbrand/kill-radar/pkg/models"
	"github.com/hervehildenbrand/kill-radar/pkg/notify"
	"github.com/hervehildenbrand/kill-radar/pkg/routing"
	"github.com/hervehildenbrand/kill-radar/pkg/subscription"
	"github.com/hervehildenbrand/kill-radar/pkg/zkillfeed"
)

const (
	root   int32 = 31000001
	sysA   int32 = 31000002
	sysB   int32 = 31000003
	hisec  int32 = 30000142
	island int32 = 31000009
)

func i32(v int32) *int32 { return &v }

type fakeTopology struct {
	mu   sync.Mutex
	snap models.TopologySnapshot
	err  error
}

func (f *fakeTopology) Topology(context.Context) (models.TopologySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.err
}

type fakeFeed struct {
	mu   sync.Mutex
	sent []subscription.Command
}

func (f *fakeFeed) Send(cmds ...subscription.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmds...)
	return nil
}

type fakeEnricher struct {
	killmails map[int64]*models.Killmail
	systems   map[int32]models.SystemInfo
	fetched   []string // "id/hash" of killmail fetches
	err       error
}

func (f *fakeEnricher) Killmail(_ context.Context, id int64, hash string) (*models.Killmail, error) {
	f.fetched = append(f.fetched, fmt.Sprintf("%d/%s", id, hash))
	if f.err != nil {
		return nil, f.err
	}
	km, ok := f.killmails[id]
	if !ok {
		return nil, models.ErrKillNotFound
	}
	return km, nil
}

func (f *fakeEnricher) System(_ context.Context, id int32) (models.SystemInfo, error) {
	info, ok := f.systems[id]
	if !ok {
		return models.SystemInfo{}, models.ErrNotFound
	}
	return info, nil
}

func (f *fakeEnricher) TypeName(context.Context, int32) (string, error) {
	return "Rifter", nil
}

func (f *fakeEnricher) Corporation(_ context.Context, id int32) (models.Corporation, *models.Alliance, error) {
	switch id {
	case 98000002:
		return models.Corporation{ID: id, Name: "Hole Dwellers"}, &models.Alliance{ID: 99000002, Name: "Deep Space"}, nil
	case 98000003:
		return models.Corporation{ID: id, Name: "Solo Corp"}, nil, nil
	}
	return models.Corporation{}, nil, models.ErrNotFound
}

type recordingSink struct {
	alerts []notify.Alert
	texts  []string
}

func (s *recordingSink) Notify(_ context.Context, a notify.Alert) error {
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *recordingSink) Text(_ context.Context, msg string) error {
	s.texts = append(s.texts, msg)
	return nil
}

type fakeRally struct {
	active map[int32]bool
	set    []int32
}

func (f *fakeRally) Set(_ context.Context, id int32) (models.RallyPoint, error) {
	if !f.active[id] {
		return models.RallyPoint{}, fmt.Errorf("rally point %d: %w", id, models.ErrSystemNotActive)
	}
	f.set = append(f.set, id)
	return models.RallyPoint{SystemID: id}, nil
}

type classes map[int32]string

func (c classes) SecurityClass(_ context.Context, id int32) (string, error) {
	if class, ok := c[id]; ok {
		return class, nil
	}
	return "", models.ErrNotFound
}

type fixture struct {
	w        *Watcher
	topology *fakeTopology
	feed     *fakeFeed
	esi      *fakeEnricher
	sink     *recordingSink
	rally    *fakeRally
	hook     *test.Hook
}

var killTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	f := &fixture{
		topology: &fakeTopology{snap: models.TopologySnapshot{
			Systems: []models.ActiveSystem{
				{ID: root, Alias: "home"},
				{ID: sysA, Alias: "a static"},
				{ID: sysB, Alias: ".b frig hole"},
			},
			Connections: []models.Connection{{A: root, B: sysA}, {A: sysA, B: sysB}},
		}},
		feed: &fakeFeed{},
		esi: &fakeEnricher{
			systems: map[int32]models.SystemInfo{
				root:   {ID: root, Name: "J100001", SecurityStatus: -1},
				sysA:   {ID: sysA, Name: "J100002", SecurityStatus: -1},
				sysB:   {ID: sysB, Name: "J100003", SecurityStatus: -1},
				hisec:  {ID: hisec, Name: "Jita", SecurityStatus: 0.95},
				island: {ID: island, Name: "Thera", SecurityStatus: -1},
			},
			killmails: map[int64]*models.Killmail{
				1: {KillmailID: 1, Time: killTime, SolarSystemID: sysB,
					Victim: models.Victim{CorporationID: i32(98000001), ShipTypeID: 587},
					Attackers: []models.Attacker{
						{CorporationID: i32(98000003)},
						{CorporationID: i32(98000002)},
						{CorporationID: i32(98000002), FinalBlow: true},
					}},
				2: {KillmailID: 2, Time: killTime, SolarSystemID: hisec,
					Victim: models.Victim{ShipTypeID: 587}},
				3: {KillmailID: 3, Time: killTime, SolarSystemID: island,
					Victim:    models.Victim{ShipTypeID: 587},
					Attackers: []models.Attacker{{ShipTypeID: i32(30193)}}},
				4: {KillmailID: 4, Time: killTime, SolarSystemID: sysA,
					Victim: models.Victim{ShipTypeID: 670}},
			},
		},
		sink:  &recordingSink{},
		rally: &fakeRally{active: map[int32]bool{root: true, sysA: true, sysB: true}},
		hook:  hook,
	}

	f.w = New(Deps{
		Topology:      f.topology,
		Feed:          f.feed,
		Enricher:      f.esi,
		Sink:          f.sink,
		Rally:         f.rally,
		Router:        routing.NewRouter(root, classes{root: "C5", sysA: "C5", sysB: "C3"}),
		Subscriptions: subscription.NewManager(),
		Filters:       filter.NewEngine(filter.NewCriteria(filter.DefaultMaxSecurity, nil, false, []int32{670})),
		Memory:        killmemory.New(10),
	}, opts, log)
	f.w.now = func() time.Time { return killTime.Add(95*time.Second + 400*time.Millisecond) }
	return f
}

func TestRefresh_AppliesOneSnapshotToSubscriptionsAndRouter(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.w.Refresh(ctx))
	assert.Equal(t, []subscription.Command{
		subscription.Subscribe("system:31000001"),
		subscription.Subscribe("system:31000002"),
		subscription.Subscribe("system:31000003"),
	}, f.feed.sent)
	assert.Equal(t, 2, f.w.Router.Distance(sysB))

	// sysB leaves the map.
	f.topology.snap = models.TopologySnapshot{
		Systems:     []models.ActiveSystem{{ID: root}, {ID: sysA}},
		Connections: []models.Connection{{A: root, B: sysA}},
	}
	f.feed.sent = nil
	require.NoError(t, f.w.Refresh(ctx))
	assert.Equal(t, []subscription.Command{subscription.Unsubscribe("system:31000003")}, f.feed.sent)
	assert.Equal(t, models.Unreachable, f.w.Router.Distance(sysB))
}

func TestRefresh_FailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.w.Refresh(ctx))

	f.topology.err = models.Transient("query topology", errors.New("connection refused"))
	f.topology.snap = models.TopologySnapshot{}
	f.feed.sent = nil

	err := f.w.Refresh(ctx)
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))
	assert.Empty(t, f.feed.sent)
	assert.Equal(t, []int32{root, sysA, sysB}, f.w.Subscriptions.Snapshot())
	assert.Equal(t, 2, f.w.Router.Distance(sysB))
}

func TestHandleKill_Alert(t *testing.T) {
	f := newFixture(t, Options{PingRoleID: "1234"})
	ctx := context.Background()
	require.NoError(t, f.w.Refresh(ctx))

	alert, err := f.w.HandleKill(ctx, &zkillfeed.KillNotification{KillID: 1, Hash: "h1"})
	require.NoError(t, err)
	require.NotNil(t, alert)

	assert.Equal(t, []string{"1/h1"}, f.esi.fetched)
	assert.Equal(t, "Killping - Rifter", alert.Title())
	assert.Equal(t, "https://zkillboard.com/kill/1/", alert.URL)
	assert.Equal(t, "J100003", alert.SystemName)
	assert.Equal(t, ".b frig hole", alert.SystemAlias)
	assert.Equal(t, 3, alert.Attackers)
	assert.Equal(t, 95*time.Second, alert.Delay)
	assert.Equal(t, "Hole Dwellers (Deep Space)", alert.AttackingCorp)
	assert.Equal(t, []string{"C5.a", "C3.b"}, alert.Route)
	assert.Equal(t, 2, alert.Jumps)
	assert.Equal(t, "<@&1234> ", alert.Ping)
	assert.Len(t, f.sink.alerts, 1)

	got, ok := f.w.Memory.LocationOf(1)
	assert.True(t, ok)
	assert.Equal(t, sysB, got)
}

func TestHandleKill_NPCAndUnreachable(t *testing.T) {
	f := newFixture(t, Options{PingRoleID: "1234", PingOnlyWormhole: true})
	ctx := context.Background()
	require.NoError(t, f.w.Refresh(ctx))

	alert, err := f.w.HandleKill(ctx, &zkillfeed.KillNotification{KillID: 3, Hash: "h3", URL: "https://zkillboard.com/kill/3/"})
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, notify.NPC, alert.AttackingCorp)
	assert.Equal(t, models.Unreachable, alert.Jumps)
	assert.Empty(t, alert.Route)
	assert.Empty(t, alert.Ping, "Thera is not a J-code system")
}

func TestHandleKill_Filtered(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.w.Refresh(ctx))

	for _, id := range []int64{2, 4} {
		alert, err := f.w.HandleKill(ctx, &zkillfeed.KillNotification{KillID: id, Hash: "h"})
		require.NoError(t, err)
		assert.Nil(t, alert)
		_, remembered := f.w.Memory.LocationOf(id)
		assert.False(t, remembered, "filtered kill %d must not be remembered", id)
	}
	assert.Empty(t, f.sink.alerts)

	var reasons []string
	for _, e := range f.hook.AllEntries() {
		if e.Message == "Killmail filtered" {
			reasons = append(reasons, e.Data["reason"].(string))
		}
	}
	assert.Equal(t, []string{filter.ReasonSecurity, filter.ReasonShipType}, reasons)
}

func TestConsume_DropsFailedEventsAndContinues(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.w.Refresh(ctx))

	events := make(chan zkillfeed.Event, 4)
	events <- &zkillfeed.StatusMessage{Status: "ONLINE"}
	events <- &zkillfeed.KillNotification{KillID: 99, Hash: "missing"}
	events <- &zkillfeed.KillNotification{KillID: 1, Hash: "h1"}
	close(events)

	f.w.Consume(ctx, events)

	require.Len(t, f.sink.alerts, 1)
	assert.Equal(t, int64(1), f.sink.alerts[0].KillID)
	assert.Equal(t, uint64(2), f.w.Stats()["processed"])
}

func TestSetRallyFromKill(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.w.Refresh(ctx))

	f.w.Memory.Remember(1, sysB)
	msg, err := f.w.SetRallyFromKill(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Rally point set to J100003.", msg)
	assert.Equal(t, []int32{sysB}, f.rally.set)
	assert.Empty(t, f.esi.fetched, "remembered kill needs no fetch")
	assert.Equal(t, []string{msg}, f.sink.texts)

	entry := f.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Rally point set", entry.Message)
	assert.Equal(t, 2, entry.Data["jumps"])
}

func TestSetRallyFromKill_FallbackFetch(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	msg, err := f.w.SetRallyFromKill(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "Rally point set to J100002.", msg)
	assert.Equal(t, []string{"4/"}, f.esi.fetched, "hash left empty for the zkillboard lookup")

	got, ok := f.w.Memory.LocationOf(4)
	assert.True(t, ok)
	assert.Equal(t, sysA, got)
}

func TestSetRallyFromKill_NoLongerOnMap(t *testing.T) {
	f := newFixture(t, Options{})
	f.w.Memory.Remember(3, island)

	msg, err := f.w.SetRallyFromKill(context.Background(), 3)
	assert.ErrorIs(t, err, models.ErrSystemNotActive)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, "Could not set rally point. System Thera no longer on the map.", msg)
	assert.Empty(t, f.rally.set)
	assert.Equal(t, []string{msg}, f.sink.texts)
}

func TestSetRallyFromKill_UnknownKill(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.w.SetRallyFromKill(context.Background(), 404)
	assert.ErrorIs(t, err, models.ErrKillNotFound)
	assert.Empty(t, f.sink.texts)
}

func TestPrimaryCorporation(t *testing.T) {
	tests := []struct {
		name      string
		attackers []models.Attacker
		want      int32
		ok        bool
	}{
		{"none", nil, 0, false},
		{"npc only", []models.Attacker{{ShipTypeID: i32(1)}}, 0, false},
		{"majority", []models.Attacker{{CorporationID: i32(1)}, {CorporationID: i32(2)}, {CorporationID: i32(2)}}, 2, true},
		{"tie keeps first", []models.Attacker{{CorporationID: i32(3)}, {CorporationID: i32(1)}}, 3, true},
		{"npc ignored", []models.Attacker{{}, {}, {CorporationID: i32(5)}}, 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PrimaryCorporation(tt.attackers)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestElapsed(t *testing.T) {
	assert.Equal(t, 2*time.Second, elapsed(killTime.Add(2500*time.Millisecond), killTime))
	assert.Equal(t, 3*time.Second, elapsed(killTime, killTime.Add(3900*time.Millisecond)), "clock skew is absolute")
}

func TestRunRefresh_StopsOnCancel(t *testing.T) {
	f := newFixture(t, Options{RefreshInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.w.RunRefresh(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return f.w.Stats()["refreshes"].(uint64) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunRefresh did not stop")
	}
}

func TestRunRefresh_WaitsForFirstTick(t *testing.T) {
	f := newFixture(t, Options{RefreshInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.w.RunRefresh(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, uint64(0), f.w.Stats()["refreshes"], "initial refresh belongs to the caller")
	assert.Empty(t, f.feed.sent)
}
