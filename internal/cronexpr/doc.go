// Package cronexpr evaluates 5-field cron expressions at minute granularity.
//
// Fields are parsed with robfig/cron (minute hour day-of-month month day-of-week)
// and evaluated against the compiled bitmasks:
//   - Matches reports whether a wall-clock minute satisfies the expression.
//   - Next scans forward to the first matching minute strictly after t,
//     bounded to four years so an impossible expression fails instead of spinning.
//
// Several expressions may be joined with '|'; the schedule then matches when any
// of them does.
package cronexpr
