// Package agent holds the agent registry and the selection set. Agents are
// role templates whose directive is folded into every orchestration request;
// the registry only grows during a session, and the selection set derives the
// enabled subset from per-ID flags at query time.
package agent
