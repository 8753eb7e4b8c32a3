// Package monitor coordinates one device link.
//
// A DeviceMonitor owns at most one active action and serializes every input
// into it: decoded messages, link signals, pilot input, UAV events and timer
// callbacks all run on a single dispatch worker. Readers such as the status
// endpoint and the control loop observe the action concurrently through its
// atomic state only.
package monitor
