package breakout

// SafetyMarginSeconds is subtracted from the parent meeting's remaining time
// to absorb the delay between room expiry and parent expiry events
const SafetyMarginSeconds = 5

// WouldExceedParentRemaining reports whether extending the breakout rooms by
// proposedMinutes would outlast the parent meeting. A nil or zero parent time
// means the parent has no limit.
func WouldExceedParentRemaining(proposedMinutes, breakoutRemainingSeconds int, parentRemainingSeconds *int) bool {
	if parentRemainingSeconds == nil || *parentRemainingSeconds == 0 {
		return false
	}

	projected := breakoutRemainingSeconds + proposedMinutes*60
	safeParentRemaining := *parentRemainingSeconds - SafetyMarginSeconds

	return projected > safeParentRemaining
}
