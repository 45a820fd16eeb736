// Package diff computes player join/leave transitions between two
// successive normalized player lists for the same server.
package diff

import "github.com/bf1942ingest/scoutd/internal/model"

// Transitions is the result of comparing a server's previous and current
// normalized player lists.
type Transitions struct {
	// Joined holds the full player row for every name present now but not
	// in the previous list, keyed by its case-folded name in the order
	// iteration produced it (not significant; callers treat it as a set).
	Joined []model.NormalizedPlayer
	// Left holds the case-folded names present previously but absent now;
	// these sessions must be closed before any Joined session is opened.
	Left []string
}

// buildIndex maps each player's case-folded name to its row. When two
// entries normalize to the same name, the later one in the input order
// wins — arbitrary but deterministic, matching how a map keyed by
// normalized name is built by iterating the list once.
func buildIndex(players []model.NormalizedPlayer) map[string]model.NormalizedPlayer {
	index := make(map[string]model.NormalizedPlayer, len(players))
	for _, p := range players {
		if p.Name == "" {
			continue
		}
		index[p.NormName()] = p
	}
	return index
}

// Compute returns the join/leave transitions between prev and current.
func Compute(prev, current []model.NormalizedPlayer) Transitions {
	prevIndex := buildIndex(prev)
	currentIndex := buildIndex(current)

	var t Transitions
	for name, player := range currentIndex {
		if _, stillThere := prevIndex[name]; !stillThere {
			t.Joined = append(t.Joined, player)
		}
	}
	for name := range prevIndex {
		if _, stillThere := currentIndex[name]; !stillThere {
			t.Left = append(t.Left, name)
		}
	}
	return t
}
