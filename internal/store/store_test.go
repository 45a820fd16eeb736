package store

import (
	"testing"

	"github.com/bf1942ingest/scoutd/internal/exclusions"
	"github.com/bf1942ingest/scoutd/internal/model"
	"github.com/stretchr/testify/require"
)

func TestNormalizePlayersCoercesAndFilters(t *testing.T) {
	excluded := map[string]struct{}{"cheater": {}}
	raw := []model.RawPlayer{
		{Name: "Alice", Score: "10", Ping: "", Kills: "bogus"},
		{Name: "cheater", Score: 999},
	}
	got := normalizePlayers(raw, excluded)
	require.Len(t, got, 1)
	require.Equal(t, "Alice", got[0].Name)
	require.Equal(t, 10, got[0].Score)
	require.Equal(t, 0, got[0].Ping)
	require.Equal(t, 0, got[0].Kills)
}

func TestNormalizePlayersDefaultsMissingName(t *testing.T) {
	got := normalizePlayers([]model.RawPlayer{{Name: ""}}, nil)
	require.Equal(t, "N/A", got[0].Name)
}

func TestJSONEqualIgnoresKeyOrderNotValue(t *testing.T) {
	a := map[string]any{"mapname": "x", "players": []map[string]any{{"name": "A"}}}
	b := map[string]any{"players": []map[string]any{{"name": "A"}}, "mapname": "x"}
	require.True(t, jsonEqual(a, b))

	c := map[string]any{"mapname": "y", "players": []map[string]any{{"name": "A"}}}
	require.False(t, jsonEqual(a, c))
}

func TestDecodePlayersRoundTrips(t *testing.T) {
	raw := []any{
		map[string]any{"name": "Bob", "score": float64(5), "keyhash": "abc"},
	}
	players := decodePlayers(raw)
	require.Len(t, players, 1)
	require.Equal(t, "Bob", players[0].Name)
	require.Equal(t, 5, players[0].Score)
	require.Equal(t, "abc", players[0].Keyhash)
}

func TestDecodePlayersHandlesNil(t *testing.T) {
	require.Nil(t, decodePlayers(nil))
}

func TestExcludedChecksBothStringAndTupleForm(t *testing.T) {
	addr := model.Address{IP: "1.2.3.4", Port: 14567}
	stringForm := &exclusions.Snapshot{
		ServerIDs:   map[string]struct{}{"1.2.3.4:14567": {}},
		ServerAddrs: map[model.Address]struct{}{},
	}
	require.True(t, exclusions.Excludes(stringForm, addr))

	tupleForm := &exclusions.Snapshot{
		ServerIDs:   map[string]struct{}{},
		ServerAddrs: map[model.Address]struct{}{addr: {}},
	}
	require.True(t, exclusions.Excludes(tupleForm, addr))

	neither := &exclusions.Snapshot{ServerIDs: map[string]struct{}{}, ServerAddrs: map[model.Address]struct{}{}}
	require.False(t, exclusions.Excludes(neither, addr))
}
