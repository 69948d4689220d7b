// Package trigger fires recurring schedules into the delayed-task registry.
//
// Each trigger has a fixed name. On every tick it calls Schedule on the
// registry under that name, so a tick that arrives while the previous run is
// still live is rejected with delayed.ErrDuplicateTask and skipped. That is
// the only overlap policy: runs never queue behind each other.
//
// Schedules are cron expressions (robfig/cron, optional seconds field),
// descriptors ("@hourly", "@every 55m"), Go durations ("55m") or HH:MM
// intervals ("02:30"). See ParseSchedule.
package trigger
