package conference

// supervisor is the conference-level reconnection policy. The transport
// owns the actual dial attempts after an unexpected drop; this supervisor
// only observes their progress and decides what to report upward, so the
// two retry loops never race each other with competing connect calls.
type supervisor struct {
	maxAttempts int

	active   bool
	attempts int
}

// activate arms the supervisor for an unexpected drop while in conference.
func (s *supervisor) activate() {
	s.active = true
	s.attempts = 0
}

func (s *supervisor) reset() {
	s.active = false
	s.attempts = 0
}

// observeAttempt records transport attempt n and reports whether it should
// be surfaced and whether the supervisor's own cap is now exceeded. The cap
// only bites when configured tighter than the transport's.
func (s *supervisor) observeAttempt(n int) (report, exceeded bool) {
	if !s.active {
		return false, false
	}
	s.attempts = n
	return true, s.maxAttempts > 0 && s.attempts > s.maxAttempts
}
