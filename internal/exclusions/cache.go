// Package exclusions holds the Exclusion Cache: three disjoint sets of
// gametypes, player names, and server identities that the scheduler and
// store consult to silently drop excluded content. The whole set is
// replaced atomically on each refresh; nothing ever mutates a live
// snapshot in place.
package exclusions

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bf1942ingest/scoutd/internal/model"
)

// Row is a single exclusion row as stored: a (type, value) pair.
type Row struct {
	Type  string // "gametype", "player_name", or "server_id"
	Value string
}

// Source loads the full exclusions table. The real implementation is
// the store adapter's SELECT against the exclusions table.
type Source interface {
	LoadExclusions(ctx context.Context) ([]Row, error)
}

// Snapshot is one immutable generation of the three exclusion sets.
type Snapshot struct {
	GameTypes   map[string]struct{}
	PlayerNames map[string]struct{}
	ServerIDs   map[string]struct{}        // "ip:port" string form
	ServerAddrs map[model.Address]struct{} // (ip, port) tuple form
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		GameTypes:   map[string]struct{}{},
		PlayerNames: map[string]struct{}{},
		ServerIDs:   map[string]struct{}{},
		ServerAddrs: map[model.Address]struct{}{},
	}
}

// Cache holds the current Snapshot behind an atomic pointer so readers
// never observe a partially rebuilt set.
type Cache struct {
	current atomic.Pointer[Snapshot]
	source  Source
	logger  *slog.Logger
}

// New builds a Cache starting from an empty snapshot; call Refresh (or
// Run) before relying on it to reflect persisted exclusions.
func New(source Source, logger *slog.Logger) *Cache {
	c := &Cache{source: source, logger: logger}
	c.current.Store(emptySnapshot())
	return c
}

// Current returns the active snapshot. Safe for concurrent use.
func (c *Cache) Current() *Snapshot {
	return c.current.Load()
}

// IsGameTypeExcluded reports whether gametype is in the current
// exclusion set.
func (c *Cache) IsGameTypeExcluded(gametype string) bool {
	_, excluded := c.Current().GameTypes[gametype]
	return excluded
}

// IsPlayerExcluded reports whether a player name is in the current
// exclusion set.
func (c *Cache) IsPlayerExcluded(name string) bool {
	_, excluded := c.Current().PlayerNames[name]
	return excluded
}

// IsServerExcluded reports whether addr is excluded, checking both the
// "ip:port" string form and the (ip, port) tuple form admitted into the
// exclusions table — either form excludes the server.
func (c *Cache) IsServerExcluded(addr model.Address) bool {
	return Excludes(c.Current(), addr)
}

// Excludes reports whether addr is excluded under snap, checking both
// the "ip:port" string form and the (ip, port) tuple form. Exported so
// callers holding a Snapshot from Refresh don't need to re-fetch Current
// to re-check it.
func Excludes(snap *Snapshot, addr model.Address) bool {
	if _, excluded := snap.ServerIDs[addr.String()]; excluded {
		return true
	}
	_, excluded := snap.ServerAddrs[addr]
	return excluded
}

// Refresh loads exclusion rows from source and atomically installs a new
// snapshot built from them. It returns the new snapshot so the caller
// (the scheduler) can decide which parked servers are no longer excluded.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	rows, err := c.source.LoadExclusions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load exclusions: %w", err)
	}

	next := emptySnapshot()
	for _, row := range rows {
		switch row.Type {
		case "gametype":
			next.GameTypes[row.Value] = struct{}{}
		case "player_name":
			next.PlayerNames[row.Value] = struct{}{}
		case "server_id":
			next.ServerIDs[row.Value] = struct{}{}
			if addr, ok := parseServerID(row.Value); ok {
				next.ServerAddrs[addr] = struct{}{}
			}
		default:
			c.logger.Warn("ignoring exclusion row with unknown type", "type", row.Type)
		}
	}

	c.current.Store(next)
	return next, nil
}

// Run refreshes the cache every interval until ctx is done, invoking
// onRefreshed with the new snapshot after each successful refresh so the
// scheduler can release parked servers whose exclusion has cleared.
func (c *Cache) Run(ctx context.Context, interval time.Duration, onRefreshed func(*Snapshot)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := c.Refresh(ctx)
			if err != nil {
				c.logger.Error("exclusion refresh failed", "error", err)
				continue
			}
			if onRefreshed != nil {
				onRefreshed(snap)
			}
		}
	}
}

// parseServerID parses the "ip:port" form used by server_id exclusion
// rows back into an Address for tuple-form membership tests.
func parseServerID(value string) (model.Address, bool) {
	idx := strings.LastIndexByte(value, ':')
	if idx < 0 {
		return model.Address{}, false
	}
	port, err := strconv.Atoi(value[idx+1:])
	if err != nil {
		return model.Address{}, false
	}
	return model.Address{IP: value[:idx], Port: port}, true
}
