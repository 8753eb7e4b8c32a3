// Package message defines the value types exchanged over the UAV link.
//
// Inbound protocol messages carry a MessageType discriminant so the monitor
// can route them to the action that declared interest. Signal messages pair a
// Command with a Parameter; payload messages carry an opaque byte payload
// decoded by the action that expects it.
//
// Event types (DeviceEvent, UavEvent, PilotEvent) hold only value fields, so
// a copy never aliases the original.
package message
