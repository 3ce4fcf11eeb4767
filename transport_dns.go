package resolve

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// DNSTransport is the plain UDP/TCP SingleTransport, grounded on
// teacher's dnsclient.go + pipeline.go. Non-persistent sends dial once
// per query via *dns.Client.Exchange; persistent_udp/persistent_tcp
// reuse a single pipelined connection per protocol, adapted from
// teacher's Pipeline/inFlightQueue to post an Event onto the caller's
// bus instead of closing a per-request "done" channel.
type DNSTransport struct {
	server string

	mu      sync.Mutex
	cfg     TransportConfig
	udpPipe *dnsPipeline
	tcpPipe *dnsPipeline
}

var _ SingleTransport = (*DNSTransport)(nil)

// NewDNSTransport returns a transport talking to server (a bare host or
// host:port; port defaults to 53 or TransportConfig.Port).
func NewDNSTransport(server string) *DNSTransport {
	return &DNSTransport{
		server: server,
		cfg:    TransportConfig{Port: 53, PacketTimeout: 10 * time.Second, UDPSize: 1220},
	}
}

func (t *DNSTransport) Server() string { return t.server }

func (t *DNSTransport) Configure(cfg TransportConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg
	if t.udpPipe != nil {
		t.udpPipe.close()
		t.udpPipe = nil
	}
	if t.tcpPipe != nil {
		t.tcpPipe.close()
		t.tcpPipe = nil
	}
}

func (t *DNSTransport) snapshot() TransportConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

func (t *DNSTransport) addr(cfg TransportConfig) string {
	host := t.server
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	port := cfg.Port
	if port == 0 {
		port = 53
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (t *DNSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.udpPipe != nil {
		t.udpPipe.close()
		t.udpPipe = nil
	}
	if t.tcpPipe != nil {
		t.tcpPipe.close()
		t.tcpPipe = nil
	}
	return nil
}

// SendAsync implements SingleTransport. Non-blocking: the actual
// exchange always happens on its own goroutine or inside a pipeline's
// dedicated reader/writer goroutines.
func (t *DNSTransport) SendAsync(request *dns.Msg, bus EventBus, sub *SubQuery) {
	cfg := t.snapshot()
	request = setUDPSize(request, cfg.UDPSize)
	cfg.TSIG.sign(request)

	useTCP := cfg.UseTCP || sub.ForceTCP
	if useTCP {
		t.sendTCP(request, bus, sub, cfg)
		return
	}
	if cfg.PersistentUDP {
		t.sendPersistentUDP(request, bus, sub, cfg)
		return
	}
	go t.exchangeOnce(request, bus, sub, cfg, "udp")
}

func (t *DNSTransport) sendTCP(request *dns.Msg, bus EventBus, sub *SubQuery, cfg TransportConfig) {
	if !cfg.PersistentTCP {
		go t.exchangeOnce(request, bus, sub, cfg, "tcp")
		return
	}
	t.mu.Lock()
	if t.tcpPipe == nil {
		t.tcpPipe = newDNSPipeline(t.addr(cfg), "tcp", cfg)
	}
	pipe := t.tcpPipe
	t.mu.Unlock()
	pipe.send(request, bus, sub)
}

func (t *DNSTransport) sendPersistentUDP(request *dns.Msg, bus EventBus, sub *SubQuery, cfg TransportConfig) {
	t.mu.Lock()
	if t.udpPipe == nil {
		t.udpPipe = newDNSPipeline(t.addr(cfg), "udp", cfg)
	}
	pipe := t.udpPipe
	t.mu.Unlock()
	pipe.send(request, bus, sub)
}

// exchangeOnce dials fresh, used whenever persistence is not requested.
func (t *DNSTransport) exchangeOnce(request *dns.Msg, bus EventBus, sub *SubQuery, cfg TransportConfig, network string) {
	client := &dns.Client{
		Net:        network,
		Timeout:    cfg.PacketTimeout,
		TsigSecret: cfg.TSIG.secretMap(),
	}
	if cfg.SrcAddress != "" || cfg.SrcPort != 0 {
		client.Dialer = &net.Dialer{LocalAddr: localAddr(network, cfg.SrcAddress, cfg.SrcPort)}
	}

	Log.WithFields(logrus.Fields{"server": t.server, "net": network, "qname": qName(request)}).Debug("sending query")
	resp, _, err := client.Exchange(request, t.addr(cfg))
	if err != nil {
		bus <- Event{ClientID: sub.ClientID, Sub: sub, Kind: EventError, Err: classifyDNSError(t.server, err)}
		return
	}
	if resp.Truncated && !cfg.IgnoreTruncation && network == "udp" {
		t.exchangeOnce(request, bus, sub, cfg, "tcp")
		return
	}
	bus <- Event{ClientID: sub.ClientID, Sub: sub, Kind: EventReceived, Msg: resp, Err: rcodeError(resp, t.server)}
}

// localAddr builds the LocalAddr for net.Dialer from src_address/src_port.
func localAddr(network, srcAddress string, srcPort int) net.Addr {
	ip := net.ParseIP(srcAddress)
	switch network {
	case "tcp":
		return &net.TCPAddr{IP: ip, Port: srcPort}
	default:
		return &net.UDPAddr{IP: ip, Port: srcPort}
	}
}

// rcodeError translates an authoritative NXDOMAIN into the spec's
// terminal NXDomainError; every other rcode (including SERVFAIL) is
// handed to the orchestrator as a successful RECEIVED carrying the
// message as-is, matching teacher's behavior of never second-guessing
// the upstream's answer beyond NXDOMAIN/truncation.
func rcodeError(resp *dns.Msg, server string) error {
	if resp.Rcode == dns.RcodeNameError {
		return &NXDomainError{Query: resp}
	}
	return nil
}

// classifyDNSError maps a *dns.Client error into the spec's error
// taxonomy (spec.md §7).
func classifyDNSError(server string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Server: server}
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return &TimeoutError{Server: server}
	}
	if isResourceExhausted(err) {
		return &ResourceExhaustedError{Server: server, Cause: err}
	}
	return &TransportError{Server: server, Cause: err}
}

func isResourceExhausted(err error) bool {
	var syscallErr *os.SyscallError
	if errors.As(err, &syscallErr) {
		return syscallErr.Err.Error() == "too many open files"
	}
	return false
}

// dnsPipeline is teacher's pipeline.go Pipeline, generalized from a
// synchronous Resolve(msg)(msg,error) call to posting an Event onto a
// caller-supplied bus, and generalized from TCP-only to UDP-or-TCP via
// the embedded *dns.Client's Net field.
type dnsPipeline struct {
	addr    string
	client  *dns.Client
	cfg     TransportConfig
	reqs    chan *pipelineRequest
	closeCh chan struct{}
	once    sync.Once
}

type pipelineRequest struct {
	msg *dns.Msg
	bus EventBus
	sub *SubQuery
}

func newDNSPipeline(addr, network string, cfg TransportConfig) *dnsPipeline {
	p := &dnsPipeline{
		addr: addr,
		cfg:  cfg,
		client: &dns.Client{
			Net:        network,
			Timeout:    cfg.PacketTimeout,
			TsigSecret: cfg.TSIG.secretMap(),
		},
		reqs:    make(chan *pipelineRequest),
		closeCh: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *dnsPipeline) send(msg *dns.Msg, bus EventBus, sub *SubQuery) {
	select {
	case p.reqs <- &pipelineRequest{msg: msg, bus: bus, sub: sub}:
	case <-p.closeCh:
		bus <- Event{ClientID: sub.ClientID, Sub: sub, Kind: EventError, Err: &TransportError{Server: p.addr, Cause: fmt.Errorf("pipeline closed")}}
	}
}

func (p *dnsPipeline) close() {
	p.once.Do(func() { close(p.closeCh) })
}

// run is teacher's Pipeline.start(), generalized to emit Events instead
// of closing a per-request done channel.
func (p *dnsPipeline) run() {
	var (
		wg       sync.WaitGroup
		inFlight = newPipelineInFlight()
	)
	for {
		var req *pipelineRequest
		select {
		case req = <-p.reqs:
		case <-p.closeCh:
			return
		}

		conn, err := p.client.Dial(p.addr)
		if err != nil {
			req.bus <- Event{ClientID: req.sub.ClientID, Sub: req.sub, Kind: EventError, Err: classifyDNSError(p.addr, err)}
			continue
		}

		done := make(chan struct{})
		wg.Add(2)
		go func() { p.reqs <- req }() // re-queue the request that triggered the dial

		go func() { // writer
			for {
				select {
				case req := <-p.reqs:
					query := inFlight.add(req)
					if err := conn.WriteMsg(query.msg); err != nil {
						req.bus <- Event{ClientID: req.sub.ClientID, Sub: req.sub, Kind: EventError, Err: classifyDNSError(p.addr, err)}
						inFlight.get(query.msg.Id)
						conn.Close()
						wg.Done()
						return
					}
				case <-done:
					wg.Done()
					return
				case <-p.closeCh:
					conn.Close()
					wg.Done()
					return
				}
			}
		}()

		go func() { // reader
			for {
				a, err := conn.ReadMsg()
				if err != nil {
					close(done)
					wg.Done()
					return
				}
				req := inFlight.get(a.Id)
				if req == nil {
					continue
				}
				a.Id = req.msg.Id
				req.bus <- Event{ClientID: req.sub.ClientID, Sub: req.sub, Kind: EventReceived, Msg: a, Err: rcodeError(a, p.addr)}
			}
		}()

		wg.Wait()
	}
}

// pipelineInFlight is teacher's inFlightQueue, unchanged in shape: maps
// a per-connection wire transaction id back to the request that sent it.
type pipelineInFlight struct {
	mu        sync.Mutex
	requests  map[uint16]*wireRequest
	idCounter uint16
}

type wireRequest struct {
	msg *dns.Msg
	req *pipelineRequest
}

func newPipelineInFlight() *pipelineInFlight {
	return &pipelineInFlight{requests: make(map[uint16]*wireRequest)}
}

func (q *pipelineInFlight) add(req *pipelineRequest) *wireRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.idCounter++
	query := req.msg.Copy()
	query.Id = q.idCounter
	wr := &wireRequest{msg: query, req: req}
	q.requests[q.idCounter] = wr
	return wr
}

func (q *pipelineInFlight) get(id uint16) *pipelineRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	wr, ok := q.requests[id]
	if !ok {
		return nil
	}
	delete(q.requests, id)
	return wr.req
}
