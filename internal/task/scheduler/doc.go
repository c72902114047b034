// Package scheduler fires registered jobs on wall-clock minutes.
//
// Schedules are five-field expressions (minute hour day month weekday)
// parsed once at registration into a typed Spec. The service runs a single
// tick loop aligned to minute boundaries; each matching job runs in its own
// goroutine under a fixed timeout, and a job that is still running is
// skipped rather than started twice.
package scheduler
