package resolve

// Per spec.md §6 "udp_size": absolute floor on any configured EDNS0
// buffer size, regardless of DNSSEC.
const minUDPSize = 1220

// dnssecMinUDPSize is the floor enforced when dnssec is enabled (spec.md
// §6 "udp_size": "forced ≥ 4096 when dnssec=true").
const dnssecMinUDPSize = 4096

// clampUDPSize enforces invariant P5 (dnssec=true ⇒ udp_size ≥ 4096)
// and the absolute floor, grounded on teacher's edns0-modifier.go
// pattern of small pure functions shaping EDNS0 state ahead of dispatch.
func clampUDPSize(size uint16, dnssec bool) uint16 {
	if size < minUDPSize {
		size = minUDPSize
	}
	if dnssec && size < dnssecMinUDPSize {
		size = dnssecMinUDPSize
	}
	return size
}
