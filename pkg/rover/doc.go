// Package rover defines the messages exchanged with the rover over radio.
package rover

// The rover end runs RadioHead-based firmware and hand-packs message
// bodies in little-endian order. The layout here must match it byte for
// byte, including the RadioHead routing header the rover firmware strips
// invisibly on its side.
//
// Producer: rover firmware
// Consumer: ground station
