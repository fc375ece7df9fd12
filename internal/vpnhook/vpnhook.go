// Package vpnhook is the narrow seam into the packet-forwarding VPN layer,
// which lives outside this module entirely. It
// exposes exactly the one hook the core calls before dialing any
// destination: Whitelist.
package vpnhook

import "net"

// Whitelist instructs the (external) packet layer to route ip outside the
// tunnel, so a connection this process makes to ip is not looped back
// through itself. It must be idempotent. The default is a no-op; a host
// process wires in the real VPN layer by replacing this variable during
// startup.
var Whitelist func(ip net.IP) = func(net.IP) {}
