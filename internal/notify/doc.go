// Package notify delivers job lifecycle events: a websocket hub for
// connected dashboards and an optional ntfy topic. Both are a convenience
// on top of status polling, never a replacement for it.
package notify
