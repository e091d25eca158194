package abctrawl

import (
	"testing"
	"time"
)

func TestHostPolicyEligibleNilHost(t *testing.T) {
	hp := &HostPolicy{Cooldown: 30 * time.Second, TimeoutStreak: 3, ReenableAfter: time.Hour}
	if !hp.Eligible(nil, time.Now()) {
		t.Error("a host with no row yet should be eligible")
	}
}

func TestHostPolicyEligibleDisabled(t *testing.T) {
	hp := &HostPolicy{Cooldown: 30 * time.Second, TimeoutStreak: 3, ReenableAfter: time.Hour}
	h := &Host{Host: "example.com", Disabled: true}
	if hp.Eligible(h, time.Now()) {
		t.Error("a disabled host must never be eligible")
	}
}

func TestHostPolicyEligibleCooldown(t *testing.T) {
	hp := &HostPolicy{Cooldown: 30 * time.Second, TimeoutStreak: 3, ReenableAfter: time.Hour}
	now := time.Now()
	h := &Host{Host: "example.com", LastAccess: now.Add(-5 * time.Second)}
	if hp.Eligible(h, now) {
		t.Error("a host accessed within its cooldown window must not be eligible")
	}
	h.LastAccess = now.Add(-31 * time.Second)
	if !hp.Eligible(h, now) {
		t.Error("a host past its cooldown window should be eligible")
	}
}

func TestHostPolicyOnFetchCompleteDisablesOnDNSFailure(t *testing.T) {
	hp := &HostPolicy{Cooldown: 30 * time.Second, TimeoutStreak: 3, ReenableAfter: time.Hour}
	h := &Host{Host: "example.com"}
	now := time.Now()
	hp.OnFetchComplete(h, now, 0, false, true, 0)

	if !h.Disabled || h.DisabledReason != DisabledDNS {
		t.Errorf("expected host disabled for dns, got disabled=%v reason=%q", h.Disabled, h.DisabledReason)
	}
}

func TestHostPolicyOnFetchCompleteDisablesOnTimeoutStreak(t *testing.T) {
	hp := &HostPolicy{Cooldown: 30 * time.Second, TimeoutStreak: 3, ReenableAfter: time.Hour}
	h := &Host{Host: "example.com"}
	now := time.Now()

	hp.OnFetchComplete(h, now, 0, false, false, 1)
	if h.Disabled {
		t.Fatal("should not disable before reaching the timeout streak")
	}
	hp.OnFetchComplete(h, now, 0, false, false, 3)
	if !h.Disabled || h.DisabledReason != DisabledTimeout {
		t.Errorf("expected host disabled for timeout streak, got disabled=%v reason=%q", h.Disabled, h.DisabledReason)
	}
}

func TestHostPolicyOnFetchCompleteSuccessUpdatesStats(t *testing.T) {
	hp := &HostPolicy{Cooldown: 30 * time.Second, TimeoutStreak: 3, ReenableAfter: time.Hour}
	h := &Host{Host: "example.com"}
	now := time.Now()
	hp.OnFetchComplete(h, now, 200, true, false, 0)

	if h.Downloads != 1 || h.LastHTTPStatus != 200 || !h.LastAccess.Equal(now) {
		t.Errorf("unexpected host state after successful fetch: %+v", h)
	}
}

func TestHostPolicyReenableEligible(t *testing.T) {
	hp := &HostPolicy{Cooldown: 30 * time.Second, TimeoutStreak: 3, ReenableAfter: time.Hour}
	now := time.Now()

	disabledAt := now.Add(-2 * time.Hour)
	h := &Host{Host: "example.com", Disabled: true, DisabledReason: DisabledTimeout, DisabledAt: &disabledAt}
	if !hp.ReenableEligible(h, now) {
		t.Error("expected a long-disabled timeout host to be re-enable eligible")
	}

	recentlyDisabled := now.Add(-1 * time.Minute)
	h.DisabledAt = &recentlyDisabled
	if hp.ReenableEligible(h, now) {
		t.Error("a recently-disabled timeout host should not yet be re-enable eligible")
	}

	h.DisabledReason = DisabledManual
	h.DisabledAt = &disabledAt
	if hp.ReenableEligible(h, now) {
		t.Error("a manually-disabled host is never auto re-enabled")
	}
}
