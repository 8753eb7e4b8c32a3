// Package telemetry implements the event hub for the link daemon.
//
// The hub fans out action and UAV events to subscribers and buffers the last
// N events per link so reconnecting SSE clients can resume with the
// Last-Event-ID header. Event IDs are monotonic per link.
package telemetry
