// Package orchestrator runs deterministic multi-agent cycles: it captures a
// task, records it in history and self-learning memory exactly once, then
// delegates each cycle to a generation service and synthesizes a local
// fallback whenever delegation fails. The Orchestrator facade adds command
// routing, playbooks, replay, agent management and session settings.
package orchestrator
