// Package pulse drives the periodic work of every core module.
//
// Three tiers tick independently: slow (10s) for journal drains, cron
// evaluation, and archival; medium (1s) for admission, scheduling, and
// harvesting; fast (50ms) for the reachability sweep. Subscribers hold a
// one-slot channel, so a busy module coalesces missed ticks instead of
// building a backlog.
package pulse
