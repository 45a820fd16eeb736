// Package gamespy1 implements the minimal wire exchange for the GameSpy1
// UDP query protocol: a single "\status\" request datagram, answered by
// one or more "\key\value\..." datagrams terminated by a "\final\" marker.
//
// This package only speaks the wire framing; it does not interpret game-
// specific fields beyond splitting them into a flat key/value map and a
// player table, which is all the rest of the system needs.
package gamespy1

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/bf1942ingest/scoutd/internal/model"
)

const statusRequest = "\\status\\"

// maxDatagram is generous for GameSpy1 responses, which are typically
// well under 1400 bytes per packet.
const maxDatagram = 4096

// Query sends a single status request to addr over UDP and collects the
// response into info key/value pairs and a player table. It blocks until
// either a terminating "final" key is seen, the context is done, or the
// connection's read deadline (set from ctx) elapses.
func Query(ctx context.Context, ip string, port int) (model.RawProbeResult, error) {
	raddr := net.JoinHostPort(ip, strconv.Itoa(port))
	conn, err := net.Dial("udp", raddr)
	if err != nil {
		return model.RawProbeResult{}, fmt.Errorf("dial %s: %w", raddr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return model.RawProbeResult{}, fmt.Errorf("set deadline: %w", err)
		}
	}

	if _, err := conn.Write([]byte(statusRequest)); err != nil {
		return model.RawProbeResult{}, fmt.Errorf("send status request: %w", err)
	}

	fields := map[string]string{}
	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-ctx.Done():
			return model.RawProbeResult{}, ctx.Err()
		default:
		}

		n, err := conn.Read(buf)
		if err != nil {
			if len(fields) == 0 {
				return model.RawProbeResult{}, fmt.Errorf("read status response: %w", err)
			}
			break
		}
		parseInto(fields, string(buf[:n]))
		if _, final := fields["final"]; final {
			break
		}
	}

	return toResult(fields), nil
}

// parseInto splits a "\k\v\k\v...\final\" datagram into fields, merging
// into the accumulator so multi-packet responses combine correctly. The
// trailing "final" marker is a bare terminator key with no value, not a
// key/value pair, so it is handled separately from the pairwise split.
func parseInto(fields map[string]string, packet string) {
	trimmed := strings.TrimPrefix(packet, "\\")
	trimmed = strings.TrimSuffix(trimmed, "\\")
	parts := strings.Split(trimmed, "\\")

	i := 0
	for ; i+1 < len(parts); i += 2 {
		fields[strings.ToLower(parts[i])] = parts[i+1]
	}
	if i < len(parts) && strings.EqualFold(parts[i], "final") {
		fields["final"] = ""
	}
}

// toResult splits the flat field map into the generic info map plus an
// indexed player table (keys of the form "player_N", "score_N", ...).
func toResult(fields map[string]string) model.RawProbeResult {
	info := make(map[string]any, len(fields))
	playerIdx := map[int]*model.RawPlayer{}

	for k, v := range fields {
		if name, idx, ok := splitIndexedKey(k); ok {
			p := playerIdx[idx]
			if p == nil {
				p = &model.RawPlayer{}
				playerIdx[idx] = p
			}
			switch name {
			case "player":
				p.Name = v
			case "keyhash":
				p.Keyhash = v
			case "score":
				p.Score = v
			case "ping":
				p.Ping = v
			case "team":
				p.Team = v
			case "kills":
				p.Kills = v
			case "deaths":
				p.Deaths = v
			}
			continue
		}
		info[k] = v
	}

	players := make([]model.RawPlayer, 0, len(playerIdx))
	for i := 0; i < len(playerIdx); i++ {
		if p := playerIdx[i]; p != nil {
			players = append(players, *p)
		}
	}

	return model.RawProbeResult{Info: info, Players: players}
}

// splitIndexedKey splits "player_3" into ("player", 3, true).
func splitIndexedKey(key string) (name string, idx int, ok bool) {
	last := strings.LastIndexByte(key, '_')
	if last < 0 || last == len(key)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(key[last+1:])
	if err != nil {
		return "", 0, false
	}
	return key[:last], n, true
}
