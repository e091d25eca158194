package abctrawl

import "testing"

func TestSetDefaultConfigSatisfiesInvariants(t *testing.T) {
	SetDefaultConfig()
	if err := assertConfigInvariants(); err != nil {
		t.Fatalf("default config violates its own invariants: %v", err)
	}
}

func TestAssertConfigInvariantsCatchesBadValues(t *testing.T) {
	SetDefaultConfig()
	Config.MaxRetries = -1
	if err := assertConfigInvariants(); err == nil {
		t.Error("expected a negative max_retries to be rejected")
	}

	SetDefaultConfig()
	Config.InflightTTLSeconds = 0
	if err := assertConfigInvariants(); err == nil {
		t.Error("expected a zero inflight_ttl_seconds to be rejected")
	}

	SetDefaultConfig()
	Config.DispatcherPort = 70000
	if err := assertConfigInvariants(); err == nil {
		t.Error("expected an out-of-range dispatcher_port to be rejected")
	}
}

func TestReadConfigFileMissingFileKeepsDefaults(t *testing.T) {
	SetDefaultConfig()
	if err := ReadConfigFile("/nonexistent/path/abctrawl.yaml"); err == nil {
		t.Fatal("expected an error reading a nonexistent config file")
	}
	if Config.DispatcherPort != 8888 {
		t.Errorf("expected defaults to remain after a failed read, got port %d", Config.DispatcherPort)
	}
}

func TestDurationHelpers(t *testing.T) {
	SetDefaultConfig()
	if Cooldown().Seconds() != float64(Config.CooldownSeconds) {
		t.Errorf("Cooldown() mismatch with CooldownSeconds")
	}
	if InflightTTL().Seconds() != float64(Config.InflightTTLSeconds) {
		t.Errorf("InflightTTL() mismatch with InflightTTLSeconds")
	}
}
