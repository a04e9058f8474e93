// Package xlink is a transport-agnostic, stream-multiplexing message bus
// connecting a host process to one or more peer endpoints. A Transport
// (USB, TCP, PCIe, or a UNIX-domain socket) carries one duplex byte
// stream; xlink splits it into named Streams with independent flow
// control, at-most-once delivery, and cooperative teardown.
//
// Initialize once per process, then Connect or Server each physical
// connection to obtain a link id, OpenStream named channels on it, and
// WriteData/ReadData/ReleaseData against the returned StreamHandle.
// ResetRemote or ResetAll tear links down; AddLinkDownCallback observes
// unsolicited teardown (a peer crash, a pulled cable).
//
//	api := xlink.New()
//	if err := api.Initialize(nil); err != nil { ... }
//	linkID, err := api.Connect(tcpTransport)
//	h, err := api.OpenStream(linkID, "telemetry", 1<<20)
//	err = api.WriteData(h, payload)
//	pkt, err := api.ReadData(h)
//	err = api.ReleaseData(h)
package xlink
