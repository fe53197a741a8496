package watchdog

import "testing"

func testConfig() Config {
	return DefaultConfig()
}

func TestInitialGracePeriod(t *testing.T) {
	cfg := testConfig()
	out := Evaluate(cfg, Input{
		NowMs:           10_000,
		Online:          true,
		SyncStartedAtMs: 1_000,
	})
	if out.Health != HealthInitial {
		t.Fatalf("got %s want initial", out.Health)
	}
	if out.ShouldForceRefresh || out.ShouldRestartListener {
		t.Fatalf("no recovery action expected: %+v", out)
	}
}

func TestInitialStaleFiresFirstAttempt(t *testing.T) {
	cfg := testConfig()
	out := Evaluate(cfg, Input{
		NowMs:           25_000,
		Online:          true,
		SyncStartedAtMs: 1_000,
	})
	if out.Health != HealthRecovering || out.StaleKind != StaleInitial {
		t.Fatalf("got %+v", out)
	}
	if !out.ShouldForceRefresh {
		t.Fatal("first attempt should force refresh")
	}
	if out.ShouldRestartListener {
		t.Fatal("listener restart starts at the second attempt")
	}
	if out.NextRecoveryAttempts != 1 || !out.NextEpisode.Active {
		t.Fatalf("episode not advanced: %+v", out.NextEpisode)
	}
}

func TestCooldownSuppressesAction(t *testing.T) {
	cfg := testConfig()
	in := Input{
		NowMs:           25_000,
		Online:          true,
		SyncStartedAtMs: 1_000,
	}
	first := Evaluate(cfg, in)

	in.NowMs += cfg.RecoveryCooldownMs - 1_000
	in.Episode = first.NextEpisode
	second := Evaluate(cfg, in)
	if second.Health != HealthStale || second.ShouldForceRefresh {
		t.Fatalf("expected quiet stale inside cooldown: %+v", second)
	}
	if second.NextRecoveryAttempts != 1 {
		t.Fatalf("attempts changed during cooldown: %d", second.NextRecoveryAttempts)
	}
}

func TestSecondAttemptRestartsListener(t *testing.T) {
	cfg := testConfig()
	in := Input{
		NowMs:           25_000,
		Online:          true,
		SyncStartedAtMs: 1_000,
	}
	first := Evaluate(cfg, in)

	in.NowMs += cfg.RecoveryCooldownMs
	in.Episode = first.NextEpisode
	second := Evaluate(cfg, in)
	if second.Health != HealthRecovering || !second.ShouldForceRefresh {
		t.Fatalf("expected second attempt: %+v", second)
	}
	if !second.ShouldRestartListener {
		t.Fatal("second attempt must restart the listener")
	}
	if second.NextRecoveryAttempts != 2 {
		t.Fatalf("got attempts %d", second.NextRecoveryAttempts)
	}
}

func TestLaterAttemptsUseSlowCooldown(t *testing.T) {
	cfg := testConfig()
	in := Input{NowMs: 25_000, Online: true, SyncStartedAtMs: 1_000}
	out := Evaluate(cfg, in)
	in.NowMs += cfg.RecoveryCooldownMs
	in.Episode = out.NextEpisode
	out = Evaluate(cfg, in) // attempt 2

	// At the fast cooldown the third attempt is still suppressed.
	in.NowMs += cfg.RecoveryCooldownMs
	in.Episode = out.NextEpisode
	quiet := Evaluate(cfg, in)
	if quiet.ShouldForceRefresh {
		t.Fatalf("third attempt should wait for the slow cooldown: %+v", quiet)
	}

	in.NowMs += cfg.RecoverySlowCooldownMs
	in.Episode = quiet.NextEpisode
	third := Evaluate(cfg, in)
	if !third.ShouldForceRefresh || third.NextRecoveryAttempts != 3 {
		t.Fatalf("got %+v", third)
	}
}

func TestExhaustionEntersHardCooldown(t *testing.T) {
	cfg := testConfig()
	in := Input{NowMs: 25_000, Online: true, SyncStartedAtMs: 1_000}
	ep := Episode{}
	attempts := 0
	for i := 0; i < 50 && attempts < cfg.RecoveryMaxAttempts; i++ {
		in.Episode = ep
		out := Evaluate(cfg, in)
		ep = out.NextEpisode
		attempts = ep.Attempts
		in.NowMs += cfg.RecoverySlowCooldownMs
	}
	if attempts != cfg.RecoveryMaxAttempts {
		t.Fatalf("never reached max attempts: %d", attempts)
	}

	in.Episode = ep
	out := Evaluate(cfg, in)
	if !out.Exhausted {
		t.Fatalf("expected exhaustion: %+v", out)
	}
	if out.ShouldForceRefresh || out.ShouldRestartListener {
		t.Fatalf("no action while exhausted: %+v", out)
	}
	if out.NextEpisode.HardCooldownUntilMs <= in.NowMs {
		t.Fatalf("hard cooldown not set: %+v", out.NextEpisode)
	}

	// Still exhausted inside the hard cooldown window.
	in.NowMs += cfg.RecoveryHardCooldownMs / 2
	in.Episode = out.NextEpisode
	again := Evaluate(cfg, in)
	if !again.Exhausted || again.ShouldForceRefresh {
		t.Fatalf("expected quiet hard cooldown: %+v", again)
	}
}

func TestOfflineNeverActs(t *testing.T) {
	cfg := testConfig()
	out := Evaluate(cfg, Input{
		NowMs:           100_000,
		Online:          false,
		SyncStartedAtMs: 1_000,
		Episode:         Episode{Active: true, Kind: StaleInitial, Attempts: 1},
	})
	if out.Health != HealthStale {
		t.Fatalf("got %s", out.Health)
	}
	if out.ShouldForceRefresh || out.ShouldRestartListener {
		t.Fatalf("offline must not trigger recovery: %+v", out)
	}
	if out.NextEpisode.Attempts != 1 {
		t.Fatalf("episode mutated while offline: %+v", out.NextEpisode)
	}
}

func TestServerSnapshotResolvesEpisode(t *testing.T) {
	cfg := testConfig()
	out := Evaluate(cfg, Input{
		NowMs:                  60_000,
		Online:                 true,
		SyncStartedAtMs:        1_000,
		LastServerSnapshotAtMs: 55_000,
		Episode:                Episode{Active: true, Kind: StalePost, Attempts: 2},
	})
	if out.Health != HealthOK {
		t.Fatalf("got %s want ok", out.Health)
	}
	if out.NextEpisode.Active {
		t.Fatalf("episode should be cleared: %+v", out.NextEpisode)
	}
}

func TestCacheOnlyStaleness(t *testing.T) {
	cfg := testConfig()
	out := Evaluate(cfg, Input{
		NowMs:                  100_000,
		Online:                 true,
		SyncStartedAtMs:        1_000,
		LastServerSnapshotAtMs: 90_000,
		LastSnapshotFromCache:  true,
		CacheOnlySinceMs:       100_000 - cfg.CacheOnlyStaleMs,
	})
	if out.StaleKind != StaleCacheOnly {
		t.Fatalf("got %s want cache-only", out.StaleKind)
	}
}

func TestKindChangeResetsEpisode(t *testing.T) {
	cfg := testConfig()
	out := Evaluate(cfg, Input{
		NowMs:                  200_000,
		Online:                 true,
		SyncStartedAtMs:        1_000,
		LastServerSnapshotAtMs: 100_000,
		Episode:                Episode{Active: true, Kind: StaleInitial, Attempts: 3, LastAttemptAtMs: 190_000},
	})
	if out.StaleKind != StalePost {
		t.Fatalf("got %s want post", out.StaleKind)
	}
	// Fresh episode for the new kind: attempts restart at 1 and fire.
	if !out.ShouldForceRefresh || out.NextRecoveryAttempts != 1 {
		t.Fatalf("got %+v", out)
	}
}

func TestShouldTrace(t *testing.T) {
	cfg := testConfig()
	if ok, _ := ShouldTrace(cfg, 10_000, Episode{}); ok {
		t.Fatal("inactive episode must not trace")
	}
	ep := Episode{Active: true, LastTraceAtMs: 10_000}
	if ok, _ := ShouldTrace(cfg, 10_000+cfg.TraceIntervalMs-1, ep); ok {
		t.Fatal("trace fired before interval")
	}
	ok, next := ShouldTrace(cfg, 10_000+cfg.TraceIntervalMs, ep)
	if !ok {
		t.Fatal("trace due")
	}
	if next.LastTraceAtMs != 10_000+cfg.TraceIntervalMs {
		t.Fatalf("trace timestamp not advanced: %+v", next)
	}
}
