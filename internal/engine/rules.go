package engine

import "time"

const (
	MinimumPlayers  = 4
	MinimumCards    = 10
	HandCardsByType = 6
	WinScore        = 8
	AFKLimit        = 2

	MaxDeckLines   = 2000
	MaxCardTextLen = 255
	MaxGaps        = 3
	MaxChatLen     = 150
	MaxNameLen     = 63
)

const (
	TimerPending  = 60 * time.Second
	TimerChoosing = 60 * time.Second
	TimerPicking  = 60 * time.Second
	TimerCooldown = 15 * time.Second
	TimerEnding   = 20 * time.Second

	JoinBonusThreshold      = 30 * time.Second
	PendingRefreshThreshold = 10 * time.Second
	ChoosingFinishThreshold = 10 * time.Second
	SkipThreshold           = time.Second

	Heartbeat = 15 * time.Second
)

// Duration is how long a match stays in phase p after entering it.
func Duration(p Phase) time.Duration {
	switch p {
	case PhasePending:
		return TimerPending
	case PhaseChoosing:
		return TimerChoosing
	case PhasePicking:
		return TimerPicking
	case PhaseCooldown:
		return TimerCooldown
	case PhaseEnding:
		return TimerEnding
	}
	return 0
}

// StatusText describes phase p to players. picker is the current picker's
// display name.
func StatusText(p Phase, picker string) string {
	switch p {
	case PhasePending:
		return "Waiting for players..."
	case PhaseChoosing:
		return "Players are choosing cards..."
	case PhasePicking:
		return picker + " is picking a winner..."
	case PhaseCooldown:
		return "The next round is about to start..."
	case PhaseEnding:
		return "The match is ending..."
	}
	return ""
}
