// Package autorun periodically submits a fixed task to the orchestrator,
// skipping a tick while the previous submission is still in flight.
package autorun
