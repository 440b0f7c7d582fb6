// Package scheduler provides a minimal in-process periodic task
// runner.
//
// Tasks register a period and an anchor time; the scheduler ticks
// once a minute and runs any task whose aligned next_run has arrived.
// A task that falls behind (e.g. the process was suspended) skips its
// missed cycles rather than running them back-to-back, and a task
// still running from a previous tick is skipped rather than
// overlapped. Both cases are logged and counted in
// metrics.TasksSkippedTotal.
//
// Built-in tasks — purging expired sessions and API keys, and the
// access-policy full-reload and partial-update cycles — are
// registered by their owning packages at startup; this package knows
// nothing about their content.
package scheduler
