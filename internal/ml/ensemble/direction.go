package ensemble

import "stockcast/internal/domain"

// DefaultDirectionThreshold is the absolute predicted return below which a
// forecast maps to hold.
const DefaultDirectionThreshold = 0.002

// Direction maps a predicted return to a trading direction.
func Direction(value, threshold float64) domain.SignalDirection {
	if value > threshold {
		return domain.DirectionLong
	}
	if value < -threshold {
		return domain.DirectionShort
	}
	return domain.DirectionHold
}
