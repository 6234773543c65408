// Package harvester collects results from running assignments and commits
// their terminal state atomically.
package harvester
