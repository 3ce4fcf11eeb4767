package resolve

import (
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// DoTTransport is a DNS-over-TLS SingleTransport, grounded on teacher's
// dotclient.go: a single pipelined "tcp-tls" connection reused across
// queries. Always persistent (DoT's TLS handshake cost makes per-query
// dialing impractical), so persistent_tcp/persistent_udp are ignored
// for this transport.
type DoTTransport struct {
	server     string
	serverName string // TLS ServerName, set when bootstrapped by IP

	mu   sync.Mutex
	cfg  TransportConfig
	pipe *dnsPipeline
}

var _ SingleTransport = (*DoTTransport)(nil)

// NewDoTTransport returns a transport talking DNS-over-TLS to server
// (host:port; port defaults to 853).
func NewDoTTransport(server string) *DoTTransport {
	return &DoTTransport{
		server: server,
		cfg:    TransportConfig{Port: 853, PacketTimeout: 10 * time.Second, UDPSize: 1220},
	}
}

// NewDoTTransportWithBootstrap is like NewDoTTransport, but dials
// bootstrapAddr instead of resolving endpoint's hostname, while still
// presenting endpoint's hostname in the TLS handshake's ServerName.
// Grounded verbatim on teacher's dotclient.go NewDoTClient bootstrap
// handling, including its use of github.com/pkg/errors.Wrapf for the
// host/port split failure.
func NewDoTTransportWithBootstrap(endpoint, bootstrapAddr string) (*DoTTransport, error) {
	if err := validEndpoint(endpoint); err != nil {
		return nil, err
	}
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse dot endpoint %q", endpoint)
	}
	return &DoTTransport{
		server:     net.JoinHostPort(bootstrapAddr, port),
		serverName: host,
		cfg:        TransportConfig{Port: 853, PacketTimeout: 10 * time.Second, UDPSize: 1220},
	}, nil
}

func (t *DoTTransport) Server() string { return "DoT(" + t.server + ")" }

func (t *DoTTransport) Configure(cfg TransportConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg
	if t.pipe != nil {
		t.pipe.close()
		t.pipe = nil
	}
}

func (t *DoTTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pipe != nil {
		t.pipe.close()
		t.pipe = nil
	}
	return nil
}

func (t *DoTTransport) pipeline() *dnsPipeline {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pipe == nil {
		tlsConfig := t.cfg.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{}
		}
		if t.serverName != "" {
			tlsConfig = tlsConfig.Clone()
			tlsConfig.ServerName = t.serverName
		}
		addr := t.server
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, "853")
		}
		p := &dnsPipeline{
			addr: addr,
			cfg:  t.cfg,
			client: &dns.Client{
				Net:        "tcp-tls",
				Timeout:    t.cfg.PacketTimeout,
				TLSConfig:  tlsConfig,
				TsigSecret: t.cfg.TSIG.secretMap(),
			},
			reqs:    make(chan *pipelineRequest),
			closeCh: make(chan struct{}),
		}
		go p.run()
		t.pipe = p
	}
	return t.pipe
}

func (t *DoTTransport) SendAsync(request *dns.Msg, bus EventBus, sub *SubQuery) {
	t.mu.Lock()
	cfg := t.cfg
	t.mu.Unlock()
	request = setUDPSize(request, cfg.UDPSize)
	cfg.TSIG.sign(request)

	t.pipeline().send(request, bus, sub)
}
