package resolve

import (
	"fmt"

	"github.com/miekg/dns"
)

// TSIGConfig carries the three shapes spec.md §6 allows for the tsig
// option: a full record (Name/Algorithm/Secret), a (name,key) pair
// (Algorithm defaults to HMAC-SHA256), or a bare key under the default
// name/algorithm. A nil *TSIGConfig disables signing. Grounded on the
// key-material shape used by johanix-tdns's tdns/tsig_utils.go
// (ParseTsigKeys), adapted to miekg/dns's TsigSecret map form.
type TSIGConfig struct {
	Name      string
	Algorithm string
	Secret    string
}

// NewTSIGFromKey builds a TSIGConfig from a bare base64 key, defaulting
// name and algorithm.
func NewTSIGFromKey(secret string) *TSIGConfig {
	return &TSIGConfig{
		Name:      "resolve.",
		Algorithm: dns.HmacSHA256,
		Secret:    secret,
	}
}

// NewTSIGFromNameKey builds a TSIGConfig from a (name, key) pair,
// defaulting the algorithm to HMAC-SHA256.
func NewTSIGFromNameKey(name, secret string) *TSIGConfig {
	return &TSIGConfig{
		Name:      dns.Fqdn(name),
		Algorithm: dns.HmacSHA256,
		Secret:    secret,
	}
}

// secretMap returns the map[name]secret shape the *dns.Client and
// *dns.Server TsigSecret fields expect.
func (t *TSIGConfig) secretMap() map[string]string {
	if t == nil {
		return nil
	}
	return map[string]string{t.Name: t.Secret}
}

// sign attaches a TSIG record to req ahead of sending, if configured.
func (t *TSIGConfig) sign(req *dns.Msg) {
	if t == nil {
		return
	}
	req.SetTsig(t.Name, t.Algorithm, 300, 0)
}

func (t *TSIGConfig) String() string {
	if t == nil {
		return "none"
	}
	return fmt.Sprintf("tsig(%s/%s)", t.Name, t.Algorithm)
}
