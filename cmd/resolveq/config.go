package main

import (
	"os"

	"github.com/BurntSushi/toml"
)

// config is the on-disk shape for resolveq's nameserver list, grounded
// on teacher's cmd/routedns/config.go loadConfig (BurntSushi/toml
// DecodeReader), trimmed down from routedns's listener/group/router tree
// to just the fields a stub resolver client needs: where to send
// queries and how.
type config struct {
	Nameserver    []nameserver
	UDPSize       uint16
	DNSSEC        bool
	Recurse       bool
	RetryTimes    int
	RetryDelaySec int
	QueryTimeoutS int
	Search        []string
}

type nameserver struct {
	Address       string
	Protocol      string // "udp", "tcp", or "dot"
	BootstrapAddr string // dot only: dial this IP instead of resolving Address's host
}

func (c config) Nameservers() []string {
	addrs := make([]string, 0, len(c.Nameserver))
	for _, ns := range c.Nameserver {
		addrs = append(addrs, ns.Address)
	}
	return addrs
}

func (c config) SearchDomains() []string { return c.Search }

func loadConfig(name string) (config, error) {
	var c config
	f, err := os.Open(name)
	if err != nil {
		return c, err
	}
	defer f.Close()
	_, err = toml.DecodeReader(f, &c)
	return c, err
}
