package watchdog

// The watchdog classifies replica health from snapshot recency and drives
// bounded recovery. It is a pure function of its inputs: callers pass the
// current time and the running episode, and persist the returned episode.

type Health string

const (
	HealthInitial    Health = "initial"
	HealthOK         Health = "ok"
	HealthStale      Health = "stale"
	HealthRecovering Health = "recovering"
)

type StaleKind string

const (
	StaleNone      StaleKind = ""
	StaleInitial   StaleKind = "initial"
	StaleCacheOnly StaleKind = "cache-only"
	StalePost      StaleKind = "post"
)

type Config struct {
	InitialStaleMs         int64
	PostStaleMs            int64
	CacheOnlyStaleMs       int64
	RecoveryCooldownMs     int64
	RecoverySlowCooldownMs int64
	RecoveryMaxAttempts    int
	RecoveryHardCooldownMs int64
	TraceIntervalMs        int64
}

func DefaultConfig() Config {
	return Config{
		InitialStaleMs:         20_000,
		PostStaleMs:            30_000,
		CacheOnlyStaleMs:       15_000,
		RecoveryCooldownMs:     4_000,
		RecoverySlowCooldownMs: 12_000,
		RecoveryMaxAttempts:    4,
		RecoveryHardCooldownMs: 120_000,
		TraceIntervalMs:        5_000,
	}
}

// Episode tracks one stale-detection episode across evaluations.
// The zero value means no episode is active.
type Episode struct {
	Active              bool
	Kind                StaleKind
	StartedAtMs         int64
	LastAttemptAtMs     int64
	Attempts            int
	LastTraceAtMs       int64
	HardCooldownUntilMs int64
}

// Input is one evaluation tick. Times are unix milliseconds.
// LastServerSnapshotAtMs is 0 until the first server snapshot arrives.
type Input struct {
	NowMs                  int64
	Online                 bool
	SyncStartedAtMs        int64
	LastServerSnapshotAtMs int64
	LastSnapshotFromCache  bool
	CacheOnlySinceMs       int64
	Episode                Episode
}

type Output struct {
	Health                Health
	StaleKind             StaleKind
	ShouldForceRefresh    bool
	ShouldRestartListener bool
	NextRecoveryAttempts  int
	Exhausted             bool
	NextEpisode           Episode
}

// Evaluate runs one tick of the staleness state machine.
func Evaluate(cfg Config, in Input) Output {
	// No recovery action is useful offline.
	if !in.Online {
		ep := in.Episode
		return Output{
			Health:               HealthStale,
			StaleKind:            ep.Kind,
			NextRecoveryAttempts: ep.Attempts,
			NextEpisode:          ep,
		}
	}

	kind := classify(cfg, in)
	if kind == StaleNone {
		if in.LastServerSnapshotAtMs == 0 {
			// Grace period before the first snapshot.
			return Output{Health: HealthInitial}
		}
		// A fresh server snapshot resolves any running episode.
		return Output{Health: HealthOK}
	}

	ep := in.Episode
	if !ep.Active || ep.Kind != kind {
		ep = Episode{
			Active:              true,
			Kind:                kind,
			StartedAtMs:         in.NowMs,
			HardCooldownUntilMs: ep.HardCooldownUntilMs,
		}
	}

	if ep.HardCooldownUntilMs > in.NowMs {
		ep.Attempts = cfg.RecoveryMaxAttempts
		return Output{
			Health:               HealthStale,
			StaleKind:            kind,
			NextRecoveryAttempts: ep.Attempts,
			Exhausted:            true,
			NextEpisode:          ep,
		}
	}

	if ep.Attempts >= cfg.RecoveryMaxAttempts {
		ep.HardCooldownUntilMs = in.NowMs + cfg.RecoveryHardCooldownMs
		return Output{
			Health:               HealthStale,
			StaleKind:            kind,
			NextRecoveryAttempts: ep.Attempts,
			Exhausted:            true,
			NextEpisode:          ep,
		}
	}

	cooldown := cfg.RecoveryCooldownMs
	if ep.Attempts >= 2 {
		cooldown = cfg.RecoverySlowCooldownMs
	}
	if ep.Attempts > 0 && in.NowMs-ep.LastAttemptAtMs < cooldown {
		// Inside the cooldown window: stale, no action.
		return Output{
			Health:               HealthStale,
			StaleKind:            kind,
			NextRecoveryAttempts: ep.Attempts,
			NextEpisode:          ep,
		}
	}

	ep.Attempts++
	ep.LastAttemptAtMs = in.NowMs
	return Output{
		Health:                HealthRecovering,
		StaleKind:             kind,
		ShouldForceRefresh:    true,
		ShouldRestartListener: ep.Attempts >= 2,
		NextRecoveryAttempts:  ep.Attempts,
		NextEpisode:           ep,
	}
}

// ShouldTrace reports whether a periodic stale trace is due, and the episode
// with the trace timestamp advanced.
func ShouldTrace(cfg Config, nowMs int64, ep Episode) (bool, Episode) {
	if !ep.Active {
		return false, ep
	}
	if nowMs-ep.LastTraceAtMs < cfg.TraceIntervalMs {
		return false, ep
	}
	ep.LastTraceAtMs = nowMs
	return true, ep
}

func classify(cfg Config, in Input) StaleKind {
	if in.LastServerSnapshotAtMs == 0 {
		if in.NowMs-in.SyncStartedAtMs >= cfg.InitialStaleMs {
			return StaleInitial
		}
		return StaleNone
	}
	if in.LastSnapshotFromCache && in.CacheOnlySinceMs > 0 &&
		in.NowMs-in.CacheOnlySinceMs >= cfg.CacheOnlyStaleMs {
		return StaleCacheOnly
	}
	if in.NowMs-in.LastServerSnapshotAtMs >= cfg.PostStaleMs {
		return StalePost
	}
	return StaleNone
}
