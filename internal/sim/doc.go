// Package sim emulates the vehicle side of the link for bench and
// integration testing.
//
// A Vehicle answers the connect handshake and the radio calibration
// procedure the way the flight controller does, reports link breaks while
// the failsafe is exercised, and counts control frames. A Scenario injects
// faults: non-static sensor reports, corrupt calibration payloads, degraded
// link checks or a silent start. Server accepts TCP connections and runs
// one vehicle per connection.
package sim
