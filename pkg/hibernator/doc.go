// Package hibernator re-queues cron-scheduled jobs when they come due.
package hibernator
