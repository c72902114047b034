package app

// StopReason records why cron mode shut down.
type StopReason int

const (
	StopUnknown StopReason = iota
	StopSignal
	StopFatalError
)

func (r StopReason) String() string {
	switch r {
	case StopSignal:
		return "signal"
	case StopFatalError:
		return "fatal_error"
	default:
		return "unknown"
	}
}
