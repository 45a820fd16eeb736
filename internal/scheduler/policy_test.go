package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextDelayEmptyServer(t *testing.T) {
	require.Equal(t, 180, nextDelaySeconds(map[string]any{"numplayers": "0"}, 20, 180))
}

func TestNextDelayActiveServerFarFromRoundEnd(t *testing.T) {
	info := map[string]any{"numplayers": "5", "roundtimeremain": "600"}
	require.Equal(t, 20, nextDelaySeconds(info, 20, 180))
}

func TestNextDelayNearRoundEndUsesDynamicDelay(t *testing.T) {
	info := map[string]any{"numplayers": "5", "roundtimeremain": "10"}
	require.Equal(t, 13, nextDelaySeconds(info, 20, 180))
}

func TestNextDelayFallsBackToRoundtimeWhenRemainMissing(t *testing.T) {
	info := map[string]any{"numplayers": "5", "roundtime": "12"}
	require.Equal(t, 15, nextDelaySeconds(info, 20, 180))
}

func TestNextDelayDefensiveCoercionOfMissingFields(t *testing.T) {
	require.Equal(t, 180, nextDelaySeconds(map[string]any{}, 20, 180))
}

func TestNextDelayNonNumericNumplayersCoercesToZero(t *testing.T) {
	require.Equal(t, 180, nextDelaySeconds(map[string]any{"numplayers": "not-a-number"}, 20, 180))
}

func TestNextDelayBoundaryAtThreshold(t *testing.T) {
	// roundtimeremain == activeS+5 is NOT < activeS+5, so it falls through
	// to the standard active interval rather than the dynamic one.
	info := map[string]any{"numplayers": "1", "roundtimeremain": "25"}
	require.Equal(t, 20, nextDelaySeconds(info, 20, 180))
}
