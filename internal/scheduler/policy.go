package scheduler

import "github.com/bf1942ingest/scoutd/internal/model"

// nextDelaySeconds implements the next-poll-delay policy: an empty
// server is polled rarely, a server mid-round with little time left on
// the clock is polled again just after the round is expected to end, and
// everything else is polled at the standard active interval.
func nextDelaySeconds(info map[string]any, activeS, emptyS int) int {
	numplayers := model.CoerceInt(info["numplayers"], 0)
	if numplayers == 0 {
		return emptyS
	}

	remain, hasRemain := info["roundtimeremain"]
	if !hasRemain || remain == nil || remain == "" {
		remain = info["roundtime"]
	}
	roundtimeRemain := model.CoerceInt(remain, 0)

	if roundtimeRemain > 0 && roundtimeRemain < activeS+5 {
		return roundtimeRemain + 3
	}
	return activeS
}
