// Package model holds the shared data types passed between the scheduler,
// querier, diff engine, and store adapter.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Address identifies a game server by its UDP endpoint.
type Address struct {
	IP   string
	Port int
}

// String renders the address in "ip:port" form, the same form used for
// server_id exclusion entries.
func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}

// RawPlayer is a single player row as returned by the GameSpy1 decoder,
// before normalization or exclusion filtering.
type RawPlayer struct {
	Name    string
	Keyhash string
	Score   any
	Ping    any
	Team    any
	Kills   any
	Deaths  any
}

// RawProbeResult is the decoded response of a single successful probe,
// prior to normalization.
type RawProbeResult struct {
	Info    map[string]any
	Players []RawPlayer
}

// NormalizedPlayer is a player row after exclusion filtering and defensive
// integer coercion, ready to be compared, diffed, and persisted.
type NormalizedPlayer struct {
	Name    string
	Keyhash string
	Score   int
	Ping    int
	Team    int
	Kills   int
	Deaths  int
}

// NormName returns the case-folded name used for session identity and
// join/leave matching.
func (p NormalizedPlayer) NormName() string {
	return strings.ToLower(p.Name)
}

// ServerRecord is the current row for a server in the servers table.
type ServerRecord struct {
	ID                  int64
	Address             Address
	Hostname            string
	Status              string // "online" or "offline"
	LastSeen            time.Time
	FirstSeen           time.Time
	ConsecutiveFailures int
	ActiveMod           string
	GameType            string
	Info                map[string]any
}

// Snapshot is an append-only record of a server's normalized state.
type Snapshot struct {
	ServerID  int64
	Timestamp time.Time
	Data      map[string]any // {"mapname": ..., "players": [...]}
	Raw       map[string]any // {"info": ..., "players": [...]}
}

// PlayerSession is a single player's presence window on a server.
type PlayerSession struct {
	ServerID     int64
	PlayerName   string
	PlayerNormal string
	Keyhash      string
	JoinTS       time.Time
	LeaveTS      *time.Time
}

// CoerceInt mirrors the defensive coercion applied to every numeric
// player field: a missing, empty, or non-numeric value becomes def
// rather than propagating a parse failure.
func CoerceInt(value any, def int) int {
	switch v := value.(type) {
	case nil:
		return def
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return def
		}
		return n
	default:
		return def
	}
}

// StringField reads a string-valued key from a decoded info map, falling
// back to def when the key is absent or not a string.
func StringField(info map[string]any, key, def string) string {
	if v, ok := info[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}
