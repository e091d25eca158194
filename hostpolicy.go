package abctrawl

import "time"

// HostPolicy governs which URLs are assignable at a given instant (spec.md
// §4.2). It is a pure decision function over a Host row plus the wall clock;
// all persistence lives in the store package, which is the only thing that
// actually reads/writes Host rows.
type HostPolicy struct {
	Cooldown      time.Duration
	TimeoutStreak int
	ReenableAfter time.Duration
}

// NewHostPolicy builds a HostPolicy from the global Config.
func NewHostPolicy() *HostPolicy {
	return &HostPolicy{
		Cooldown:      Cooldown(),
		TimeoutStreak: Config.HostTimeoutStreak,
		ReenableAfter: HostReenableAfter(),
	}
}

// Eligible reports whether a URL belonging to host h may be assigned right
// now. Rule order mirrors spec.md §4.2 rule 1-3: disabled hosts are never
// eligible; a host still inside its cooldown window is not eligible either,
// so that a different host's work is picked first; otherwise eligible.
func (hp *HostPolicy) Eligible(h *Host, now time.Time) bool {
	if h == nil {
		// Lazily-created host (no row yet): eligible, nothing to cool down from.
		return true
	}
	if h.Disabled {
		return false
	}
	if !h.LastAccess.IsZero() && now.Sub(h.LastAccess) < hp.Cooldown {
		return false
	}
	return true
}

// OnFetchComplete updates a Host row in place following a fetch, implementing
// spec.md §4.2's "On fetch completion" rules. It does not persist anything;
// callers (store.ApplyFetchResult) are responsible for writing the updated
// Host back through the store.
func (hp *HostPolicy) OnFetchComplete(h *Host, now time.Time, httpStatus int, success bool, dnsFailure bool, consecutiveTimeouts int) {
	h.LastAccess = now
	if success {
		h.Downloads++
		h.LastHTTPStatus = httpStatus
	} else if httpStatus != 0 {
		h.LastHTTPStatus = httpStatus
	}

	if dnsFailure {
		hp.disable(h, now, DisabledDNS)
		return
	}
	if consecutiveTimeouts >= hp.TimeoutStreak {
		hp.disable(h, now, DisabledTimeout)
	}
}

func (hp *HostPolicy) disable(h *Host, now time.Time, reason string) {
	if h.Disabled {
		return
	}
	h.Disabled = true
	h.DisabledReason = reason
	t := now
	h.DisabledAt = &t
}

// ReenableEligible reports whether a timeout-disabled host's cooldown window
// has elapsed and it may be re-enabled by the Purger (external to this core,
// but its contract is specified here per spec.md §4.2).
func (hp *HostPolicy) ReenableEligible(h *Host, now time.Time) bool {
	if h == nil || !h.Disabled || h.DisabledReason != DisabledTimeout || h.DisabledAt == nil {
		return false
	}
	return now.Sub(*h.DisabledAt) >= hp.ReenableAfter
}
