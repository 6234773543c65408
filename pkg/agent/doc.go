// Package agent sends worker heartbeats to the core over UDP.
package agent
