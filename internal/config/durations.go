package config

import "time"

// Interval settings are stored as integer seconds in the TOML file; these
// accessors convert them for callers.

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// PollIntervalDuration is how long workers sleep between empty claims.
func (q Queue) PollIntervalDuration() time.Duration { return seconds(q.PollInterval) }

// IntervalDuration is the period between recovery sweeps.
func (r Recovery) IntervalDuration() time.Duration { return seconds(r.Interval) }

// StuckTimeoutDuration is how long a job may sit in processing before it is
// treated as abandoned.
func (r Recovery) StuckTimeoutDuration() time.Duration { return seconds(r.StuckTimeout) }

// RetryGraceDuration is how long a failed job rests before automatic retry.
func (r Recovery) RetryGraceDuration() time.Duration { return seconds(r.RetryGrace) }

// TerminalRetentionDuration is how long finished jobs are kept before
// pruning.
func (r Recovery) TerminalRetentionDuration() time.Duration { return seconds(r.TerminalRetention) }

// IntervalDuration is the period between integrity scans.
func (i Integrity) IntervalDuration() time.Duration { return seconds(i.Interval) }

// OrphanGraceDuration is how long freshly written state is exempt from
// orphan cleanup.
func (i Integrity) OrphanGraceDuration() time.Duration { return seconds(i.OrphanGrace) }

// ReprocessAfterDuration is how long content may stay incomplete before the
// reconciler re-enqueues pipeline work for it.
func (i Integrity) ReprocessAfterDuration() time.Duration { return seconds(i.ReprocessAfter) }

// HealthTimeoutDuration bounds transcriber health probes.
func (t Transcriber) HealthTimeoutDuration() time.Duration { return seconds(t.HealthTimeout) }

// TranscribeTimeoutDuration bounds a single transcription request.
func (t Transcriber) TranscribeTimeoutDuration() time.Duration { return seconds(t.TranscribeTimeout) }

// TimeoutDuration bounds a single embedding request.
func (e Embedder) TimeoutDuration() time.Duration { return seconds(e.Timeout) }

// TimeoutDuration bounds a single vector store request.
func (v VectorStore) TimeoutDuration() time.Duration { return seconds(v.Timeout) }
