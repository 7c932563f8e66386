// Package history keeps the bounded, most-recent-first log of submitted tasks.
package history
