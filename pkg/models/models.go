// Package models defines data structures for killmails, topology and routes.
package models

import "time"

// Connection is an undirected edge between two solar systems.
type Connection struct {
	A int32
	B int32
}

// ActiveSystem is a system currently placed on the monitored map.
type ActiveSystem struct {
	ID    int32
	Alias string // may be empty
}

// TopologySnapshot is the state of the monitored map at one refresh.
type TopologySnapshot struct {
	Systems     []ActiveSystem
	Connections []Connection
}

// ActiveIDs returns the system ids of the snapshot in input order.
func (s TopologySnapshot) ActiveIDs() []int32 {
	ids := make([]int32, len(s.Systems))
	for i, sys := range s.Systems {
		ids[i] = sys.ID
	}
	return ids
}

// SystemInfo holds static attributes of a solar system.
type SystemInfo struct {
	ID             int32
	Name           string
	SecurityClass  string  // "H", "L", "0.0", "C3", ...
	SecurityStatus float64 // -1.0 .. 1.0
}

// Victim describes the destroyed ship and its owner.
type Victim struct {
	CharacterID   *int32 `json:"character_id,omitempty"`
	CorporationID *int32 `json:"corporation_id,omitempty"`
	AllianceID    *int32 `json:"alliance_id,omitempty"`
	ShipTypeID    int32  `json:"ship_type_id"`
}

// Attacker describes one participant on the killing side.
// NPCs carry no character or corporation.
type Attacker struct {
	CharacterID   *int32 `json:"character_id,omitempty"`
	CorporationID *int32 `json:"corporation_id,omitempty"`
	AllianceID    *int32 `json:"alliance_id,omitempty"`
	ShipTypeID    *int32 `json:"ship_type_id,omitempty"`
	FinalBlow     bool   `json:"final_blow"`
}

// Killmail is a single combat event as returned by ESI.
type Killmail struct {
	KillmailID    int64      `json:"killmail_id"`
	Time          time.Time  `json:"killmail_time"`
	SolarSystemID int32      `json:"solar_system_id"`
	Victim        Victim     `json:"victim"`
	Attackers     []Attacker `json:"attackers"`
}

// Corporation holds the attributes shown in alerts.
type Corporation struct {
	ID         int32  `json:"-"`
	Name       string `json:"name"`
	Ticker     string `json:"ticker"`
	AllianceID *int32 `json:"alliance_id,omitempty"`
}

// Alliance holds the attributes shown in alerts.
type Alliance struct {
	ID     int32  `json:"-"`
	Name   string `json:"name"`
	Ticker string `json:"ticker"`
}

// RallyPoint is the system responders gather at.
type RallyPoint struct {
	SystemID int32
	SetAt    time.Time
}

// Unreachable is the distance reported for systems with no path from the root.
const Unreachable = -1

// RouteResult is a shortest route from a source system. Route excludes the
// source and ends with the target.
type RouteResult struct {
	Distance int
	Route    []int32
}

// Reachable reports whether a route exists.
func (r RouteResult) Reachable() bool {
	return r.Distance != Unreachable
}

// Feed channel names
const (
	ChannelPublic       = "public"
	ChannelSystemPrefix = "system:"
)
