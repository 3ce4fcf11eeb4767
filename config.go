package resolve

import (
	"net"
	"time"
)

// ConfigInfo is the pluggable configuration source spec.md's
// `config_info` option names: a nameserver list and search domains,
// without the resolver itself reading any particular config format off
// disk (system resolv.conf discovery is an explicit spec.md Non-goal;
// cmd/resolveq supplies a TOML-backed implementation instead). The
// Resolver stores it in ResolverOptions.ConfigInfo but does not call
// it: the ranking list comes only from the transports passed to
// NewResolver or Reconfigure.
type ConfigInfo interface {
	Nameservers() []string
	SearchDomains() []string
}

// ResolverOptions is the configuration surface of spec.md §6, plus the
// [EXPANSION] test/tuning seams TickInterval and Clock.
type ResolverOptions struct {
	Port             int // default destination UDP/TCP port (spec default 53)
	UseTCP           bool
	TSIG             *TSIGConfig
	IgnoreTruncation bool
	SrcAddress       string
	SrcPort          int // 0 means "any"; validated against ports.go
	PersistentTCP    bool
	PersistentUDP    bool
	Recurse          bool
	UDPSize          uint16 // forced >= 4096 when DNSSEC is true, floor 1220
	DNSSEC           bool
	ConfigInfo       ConfigInfo
	Nameserver       []string // server labels; not read by NewResolver, which ranks only the transports it is given
	PacketTimeout    time.Duration // default 10s
	QueryTimeout     time.Duration // 0 means none (default)
	RetryTimes       int           // default 4
	RetryDelay       time.Duration // default 5s

	// [EXPANSION]
	TickInterval time.Duration // default 500ms
	Clock        Clock         // default SystemClock{}
	RateLimit    *RateLimiterOptions
	Dedup        bool
	Validator    Validator // DNSSEC validator; required if DNSSEC is true
}

// withDefaults returns a copy of o with every zero-valued field replaced
// by its spec.md default.
func (o ResolverOptions) withDefaults() ResolverOptions {
	if o.Port == 0 {
		o.Port = 53
	}
	if o.PacketTimeout == 0 {
		o.PacketTimeout = 10 * time.Second
	}
	if o.RetryTimes == 0 {
		o.RetryTimes = 4
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = 5 * time.Second
	}
	if o.TickInterval == 0 {
		o.TickInterval = 500 * time.Millisecond
	}
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	o.UDPSize = clampUDPSize(o.UDPSize, o.DNSSEC)
	return o
}

// validate checks the option combinations spec.md calls out explicitly
// (an invalid src_port "raises an argument error").
func (o ResolverOptions) validate() error {
	if o.SrcPort != 0 {
		if err := ValidateSourcePorts([]int{o.SrcPort}); err != nil {
			return &ArgumentError{Msg: err.Error()}
		}
	}
	if o.SrcAddress != "" {
		if ip := net.ParseIP(o.SrcAddress); ip == nil {
			return &ArgumentError{Msg: "invalid src_address: " + o.SrcAddress}
		}
	}
	return nil
}

func (o ResolverOptions) transportConfig() TransportConfig {
	return TransportConfig{
		Port:             o.Port,
		UseTCP:           o.UseTCP,
		TSIG:             o.TSIG,
		IgnoreTruncation: o.IgnoreTruncation,
		PacketTimeout:    o.PacketTimeout,
		SrcAddress:       o.SrcAddress,
		SrcPort:          o.SrcPort,
		PersistentTCP:    o.PersistentTCP,
		PersistentUDP:    o.PersistentUDP,
		Recurse:          o.Recurse,
		UDPSize:          o.UDPSize,
		DNSSEC:           o.DNSSEC,
	}
}
