// Package signal carries the offer/answer/ICE-candidate exchange between the
// rig and its viewer through a third-party relay.
//
// Each side of a rendezvous reads from its own suffix and writes to the
// peer's suffix. The default transport is a long-lived SSE stream (GET) plus
// one POST per outbound signal; a WebSocket transport is selected by a
// ws/wss relay URL.
package signal
