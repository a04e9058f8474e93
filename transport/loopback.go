package transport

import "net"

// LoopbackPair returns two Transports connected by an in-memory
// synchronous pipe (net.Pipe), used to drive the end-to-end scenarios of
// spec §8 without a real socket — the same role xtaci/kcptun's
// dial_test.go plays for smux, minus the network.
func LoopbackPair() (a, b *TCP) {
	ca, cb := net.Pipe()
	a = &TCP{conn: ca, peer: PeerInfo{USBSpeed: "loopback", MxID: "loopback-a"}}
	b = &TCP{conn: cb, peer: PeerInfo{USBSpeed: "loopback", MxID: "loopback-b"}}
	return a, b
}
