// Package llm defines the generation client contract used by the cycle runner
// and the providers that implement it: a JSON gateway, Ollama, OpenAI,
// Gemini and an external Python script. Every provider failure is reported as
// DELEGATION_FAILURE so the runner can substitute its local fallback.
package llm
