package resolve

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// SingleTransport is the external collaborator contract from spec.md
// §6: one UDP/TCP/DoT socket (or pool of them), its own per-packet
// timeout, TC-bit TCP fallback and TSIG signing. The orchestrator treats
// it as a black box exposing an async send and a label for logging and
// ranking. Teacher's Resolver interface (resolver.go) is the closest
// analog but is synchronous; this is the async contract spec.md
// requires instead.
type SingleTransport interface {
	// SendAsync sends request asynchronously and must eventually post
	// exactly one Event carrying sub onto bus, unless the transport is
	// torn down first. Non-blocking: returns before the response
	// arrives.
	SendAsync(request *dns.Msg, bus EventBus, sub *SubQuery)

	// Server is this transport's label, used for logging and ranking
	// decisions. Matches teacher's fmt.Stringer convention on Resolver.
	Server() string

	// Configure applies the resolver-wide transport configuration. The
	// orchestrator calls this on construction and whenever the
	// resolver's configuration changes (spec.md §6).
	Configure(cfg TransportConfig)

	// Close releases any sockets or goroutines owned by the transport.
	Close() error
}

// TransportConfig carries every field spec.md §6 says the orchestrator
// sets on a transport.
type TransportConfig struct {
	Port             int
	UseTCP           bool
	TSIG             *TSIGConfig
	IgnoreTruncation bool
	PacketTimeout    time.Duration
	SrcAddress       string
	SrcPort          int
	PersistentTCP    bool
	PersistentUDP    bool
	Recurse          bool
	UDPSize          uint16
	DNSSEC           bool
	TLSConfig        *tls.Config // used by DoT transports only
}

// SubQuery is the identity of one packet sent to one server for one
// client query at one attempt (spec.md Data Model). A single SubQuery
// value is allocated per dispatch and its pointer is used consistently
// both as the transport-level correlation token and as the outstanding-
// set key, so structural identity and pointer identity coincide.
type SubQuery struct {
	Transport SingleTransport
	Request   *dns.Msg
	ClientID  ClientID
	Attempt   int
	// ForceTCP is set when this client query was submitted via
	// SendAsyncTCP, overriding the transport's configured use_tcp for
	// this one dispatch only.
	ForceTCP bool
}

func (s *SubQuery) String() string {
	return fmt.Sprintf("%s/%s/attempt=%d", s.ClientID, s.Transport.Server(), s.Attempt)
}
