package dnssec

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestSecurityLevelString(t *testing.T) {
	require.Equal(t, "UNCHECKED", UNCHECKED.String())
	require.Equal(t, "INSECURE", INSECURE.String())
	require.Equal(t, "SECURE", SECURE.String())
	require.Equal(t, "BOGUS", BOGUS.String())
	require.Equal(t, "INDETERMINATE", INDETERMINATE.String())
	require.Equal(t, "UNKNOWN", SecurityLevel(99).String())
}

func TestValidateLevelEmptyAnswerIsInsecure(t *testing.T) {
	v := NewValidator()

	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)

	level, err := v.ValidateLevel(msg)
	require.NoError(t, err)
	require.Equal(t, INSECURE, level)
}

// emptyAnswerResolver simulates a resolver whose DNSKEY lookup always
// comes back as a bare, zero-Answer NOERROR reply.
func emptyAnswerResolver(q *dns.Msg) (*dns.Msg, error) {
	a := new(dns.Msg)
	a.SetReply(q)
	return a, nil
}

func TestValidateLevelUnsignedWithoutADIsInsecureDelegation(t *testing.T) {
	v := NewValidator()

	rrA, err := dns.NewRR("example.com. 300 IN A 192.0.2.1")
	require.NoError(t, err)

	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)
	msg.Answer = []dns.RR{rrA}

	// No RRSIG over the A record and the message doesn't claim the
	// upstream resolver validated it either.
	level, err := v.ValidateLevel(msg)
	require.ErrorIs(t, err, ErrInsecureDelegation)
	require.Equal(t, INSECURE, level)
}

func TestValidateLevelUnsignedWithADBitIsSecure(t *testing.T) {
	v := NewValidator()

	rrA, err := dns.NewRR("example.com. 300 IN A 192.0.2.1")
	require.NoError(t, err)

	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)
	msg.AuthenticatedData = true
	msg.Answer = []dns.RR{rrA}

	// No RRSIG, but the upstream resolver already set AD=1: this
	// validator never walks a chain of its own, so it defers to that.
	level, err := v.ValidateLevel(msg)
	require.NoError(t, err)
	require.Equal(t, SECURE, level)
}

func TestValidateLevelSignedWithoutPinnedAnchorFallsBackToAD(t *testing.T) {
	v := NewValidator()

	rrA, err := dns.NewRR("example.com. 300 IN A 192.0.2.1")
	require.NoError(t, err)
	rrsig, err := dns.NewRR("example.com. 300 IN RRSIG A 8 2 300 20300101000000 20240101000000 12345 example.com. AAAAAAAAAAAAAAAA")
	require.NoError(t, err)

	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)
	msg.Answer = []dns.RR{rrA, rrsig}

	// No anchor pinned at "example.com.": without AD=1 there is nothing
	// left to trust, so this classifies as BOGUS rather than verifying
	// the signature itself.
	level, err := v.ValidateLevel(msg)
	require.ErrorIs(t, err, ErrNoTrustAnchor)
	require.Equal(t, BOGUS, level)

	msg.AuthenticatedData = true
	level, err = v.ValidateLevel(msg)
	require.NoError(t, err)
	require.Equal(t, SECURE, level)
}

func TestValidateLevelPinnedAnchorButUnresolvableKeyIsBogus(t *testing.T) {
	v := NewValidator(WithResolver(emptyAnswerResolver))
	v.SetAnchor("example.com.", 20326, 8, 2, "E06D44B80B8F1D39A95C0B0D7C65D08458E880409BBC683457104237C7F8EC8")

	rrA, err := dns.NewRR("example.com. 300 IN A 192.0.2.1")
	require.NoError(t, err)
	rrsig, err := dns.NewRR("example.com. 300 IN RRSIG A 8 2 300 20300101000000 20240101000000 12345 example.com. AAAAAAAAAAAAAAAA")
	require.NoError(t, err)

	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)
	msg.Answer = []dns.RR{rrA, rrsig}

	// An anchor IS pinned for this zone, so the validator fetches its
	// DNSKEY set directly instead of deferring to AD. The stub resolver
	// never returns one: keyless, classified as BOGUS.
	level, err := v.ValidateLevel(msg)
	require.ErrorIs(t, err, ErrNoKey)
	require.Equal(t, BOGUS, level)
}

func TestValidateLevelResolverFailureWithPinnedAnchorIsIndeterminate(t *testing.T) {
	v := NewValidator(WithResolver(func(q *dns.Msg) (*dns.Msg, error) {
		return nil, errResolverDown
	}))
	v.SetAnchor("example.com.", 20326, 8, 2, "E06D44B80B8F1D39A95C0B0D7C65D08458E880409BBC683457104237C7F8EC8")

	rrA, err := dns.NewRR("example.com. 300 IN A 192.0.2.1")
	require.NoError(t, err)
	rrsig, err := dns.NewRR("example.com. 300 IN RRSIG A 8 2 300 20300101000000 20240101000000 12345 example.com. AAAAAAAAAAAAAAAA")
	require.NoError(t, err)

	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)
	msg.Answer = []dns.RR{rrA, rrsig}

	// The anchor is pinned, so the validator tries the DNSKEY round trip
	// rather than falling back to AD; that trip fails outright, which
	// ValidateLevel can't distinguish from "signed but broken", so it
	// falls through to INDETERMINATE.
	level, err := v.ValidateLevel(msg)
	require.ErrorIs(t, err, errResolverDown)
	require.Equal(t, INDETERMINATE, level)
}

type stubError string

func (e stubError) Error() string { return string(e) }

const errResolverDown = stubError("resolver down")
