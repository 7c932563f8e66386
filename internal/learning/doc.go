// Package learning implements the self-learning memory: persisted run and
// topic counters that derive a textual policy which biases future prompts.
package learning
