// Package task queues orchestration requests for asynchronous execution.
//
// A Service stores a pending Task and publishes its ID to a Queue (memory,
// Redis list or RabbitMQ). A Processor consumes IDs with a single worker,
// executes them and records the outcome, re-queueing retryable failures until
// the task's retry budget is exhausted.
package task
