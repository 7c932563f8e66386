// Package command routes exact-match slash commands to canned responses that
// may interpolate live session state. Routing never mutates that state.
package command
