package dnsrelay

import (
	"expvar"
	"fmt"
)

// Stat counts relay events, one increment per datagram outcome.
type Stat struct {
	Received        expvar.Int
	Short           expvar.Int
	Loopback        expvar.Int
	Malformed       expvar.Int
	Relayed         expvar.Int
	Fallback        expvar.Int
	NXDomain        expvar.Int
	UpstreamTimeout expvar.Int
	UpstreamError   expvar.Int
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"received":%d,"short":%d,"loopback":%d,"malformed":%d,"relayed":%d,"fallback":%d,"nxdomain":%d,"upstream.timeout":%d,"upstream.error":%d}`,
		s.Received.Value(), s.Short.Value(), s.Loopback.Value(), s.Malformed.Value(),
		s.Relayed.Value(), s.Fallback.Value(), s.NXDomain.Value(),
		s.UpstreamTimeout.Value(), s.UpstreamError.Value())
}
