package resolve

import (
	"expvar"
	"fmt"
)

// getVarInt returns an *expvar.Int with the given path, creating it on
// first use. Grounded verbatim on teacher's vars.go.
func getVarInt(base, id, name string) *expvar.Int {
	fullname := fmt.Sprintf("resolve.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Int)
	}
	return expvar.NewInt(fullname)
}

// getVarMap returns an *expvar.Map with the given path, creating it on
// first use.
func getVarMap(base, id, name string) *expvar.Map {
	fullname := fmt.Sprintf("resolve.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Map)
	}
	return expvar.NewMap(fullname)
}
