package exclusions

import (
	"context"
	"testing"
	"time"

	"github.com/bf1942ingest/scoutd/internal/logging"
	"github.com/bf1942ingest/scoutd/internal/model"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	rows []Row
	err  error
}

func (f *fakeSource) LoadExclusions(ctx context.Context) ([]Row, error) {
	return f.rows, f.err
}

func TestRefreshBuildsDisjointSets(t *testing.T) {
	src := &fakeSource{rows: []Row{
		{Type: "gametype", Value: "dm"},
		{Type: "player_name", Value: "cheater"},
		{Type: "server_id", Value: "1.2.3.4:14567"},
	}}
	c := New(src, logging.New("error", "json"))

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	require.True(t, c.IsGameTypeExcluded("dm"))
	require.False(t, c.IsGameTypeExcluded("ctf"))
	require.True(t, c.IsPlayerExcluded("cheater"))
	require.True(t, c.IsServerExcluded(model.Address{IP: "1.2.3.4", Port: 14567}))
	require.False(t, c.IsServerExcluded(model.Address{IP: "1.2.3.4", Port: 14568}))
}

func TestRefreshReplacesPreviousSnapshotWholesale(t *testing.T) {
	src := &fakeSource{rows: []Row{{Type: "gametype", Value: "dm"}}}
	c := New(src, logging.New("error", "json"))
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, c.IsGameTypeExcluded("dm"))

	src.rows = []Row{{Type: "gametype", Value: "ctf"}}
	_, err = c.Refresh(context.Background())
	require.NoError(t, err)
	require.False(t, c.IsGameTypeExcluded("dm"))
	require.True(t, c.IsGameTypeExcluded("ctf"))
}

func TestRunInvokesCallbackOnEachRefresh(t *testing.T) {
	src := &fakeSource{rows: []Row{{Type: "gametype", Value: "dm"}}}
	c := New(src, logging.New("error", "json"))

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	count := 0
	c.Run(ctx, 20*time.Millisecond, func(s *Snapshot) { count++ })
	require.GreaterOrEqual(t, count, 2)
}
