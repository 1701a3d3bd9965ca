// Package scheduler provides the in-process cron trigger for penwatch's
// batch jobs.
//
// Jobs are registered under a stable, human-readable name (e.g.
// "pension-expiry-check") so repeated registration across config reloads
// upserts rather than duplicates. Triggers fire in the configured timezone;
// changing the timezone via Apply restarts cron and re-registers every
// definition.
//
// The Service can be started and stopped at runtime. Registering jobs while
// stopped is supported: definitions are stored and applied on the next start.
package scheduler
