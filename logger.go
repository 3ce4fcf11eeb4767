package resolve

import (
	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// Log is the package-global logger. Configuration can be changed by
// replacing this instance, same as teacher's logger.go.
var Log = logrus.New()

// logger returns a logger scoped to one client query, the way teacher's
// logger(id, q, ci) scopes log lines to one resolver-group invocation.
func logger(clientID ClientID, q *dns.Msg) *logrus.Entry {
	return Log.WithFields(logrus.Fields{
		"client_id": clientID,
		"qtype":     qType(q),
		"qname":     qName(q),
	})
}
