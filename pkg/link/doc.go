// Package link runs the exchange discipline between the station and
// the rover over a half-duplex radio.
package link

// The rover owns the airtime: the station listens for Telemetry and
// only transmits in the turnaround slot after a receive. Command
// uplink is negotiated through the CommandWaiting flag on the
// telemetry ack; the rover answers with CommandReady when it is safe
// to send, and every Command chunk must be acked individually.
//
// Producer: rover firmware
// Consumer: ground station
