package main

import (
	"fmt"

	"github.com/miekg/dns"

	resolve "github.com/dnscore/orchestrator"
	"github.com/dnscore/orchestrator/dnssec"
)

// buildTransports turns a config's nameserver list into SingleTransport
// instances, grounded on teacher's cmd/routedns/main.go protocol switch
// (rdns.NewDNSClient / rdns.NewDoTClient), trimmed to the udp/tcp/dot
// set this module implements.
func buildTransports(cfg config) ([]resolve.SingleTransport, error) {
	transports := make([]resolve.SingleTransport, 0, len(cfg.Nameserver))
	for _, ns := range cfg.Nameserver {
		switch ns.Protocol {
		case "", "udp":
			transports = append(transports, resolve.NewDNSTransport(ns.Address))
		case "tcp":
			t := resolve.NewDNSTransport(ns.Address)
			transports = append(transports, t)
		case "dot":
			if ns.BootstrapAddr != "" {
				t, err := resolve.NewDoTTransportWithBootstrap(ns.Address, ns.BootstrapAddr)
				if err != nil {
					return nil, fmt.Errorf("nameserver %q: %w", ns.Address, err)
				}
				transports = append(transports, t)
				continue
			}
			transports = append(transports, resolve.NewDoTTransport(ns.Address))
		default:
			return nil, fmt.Errorf("unsupported protocol %q for nameserver %q", ns.Protocol, ns.Address)
		}
	}
	return transports, nil
}

func queryMessage(name string, qtype uint16, opts resolve.ResolverOptions) *dns.Msg {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = opts.Recurse
	if opts.DNSSEC {
		msg.CheckingDisabled = true
		msg.SetEdns0(opts.UDPSize, true)
	}
	return msg
}

func dnsTypeByName(name string) (uint16, bool) {
	t, ok := dns.StringToType[name]
	return t, ok
}

// newRootValidator returns a DNSSEC validator with the well-known 2024
// root zone KSK (tag 20326) pinned as a direct trust anchor, resolving
// DNSKEY lookups via Cloudflare's resolver (dnssec.NewValidator's own
// default). Only RRsets signed directly by "." verify against this
// anchor; everything else defers to the upstream resolver's AD bit.
func newRootValidator() *dnssec.Validator {
	v := dnssec.NewValidator()
	v.SetAnchor(".", 20326, 8, 2, "E06D44B80B8F1D39A95C0B0D7C65D08458E880409BBC683457104237C7F8EC8D")
	return v
}
