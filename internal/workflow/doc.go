// Package workflow runs one scan: load candidates, fan out analysis calls
// through a fresh worker pool, rank the successes and deliver the top-N.
package workflow
