// Package api exposes the orchestrator over HTTP: synchronous and streamed
// task submission, asynchronous tasks, history replay, agent and playbook
// management, session settings, provider health and runtime metrics.
package api
