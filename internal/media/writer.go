// Package media carries the three datagram planes: video fan-out, the audio
// mixer, and the presenter-gated screen plane. Payloads are opaque except for
// audio, which must be raw PCM for mixing.
package media

import "net"

// DatagramWriter is the minimal interface the planes need to send a datagram.
// *net.UDPConn satisfies it; tests inject a recorder instead.
type DatagramWriter interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}
