package dnsrelay

import (
	"net"

	"github.com/juju/errors"
	"github.com/miekg/dns"
)

const FallbackTTL = 60

// Fallback synthesizes local answer when no upstream replied.
// Type A gets single record with ip, anything else gets NXDOMAIN.
// Header ID, opcode, RD, CD and the question are kept.
func Fallback(q *Query, ip net.IP) ([]byte, error) {
	req := new(dns.Msg)
	if err := req.Unpack(q.Raw); err != nil {
		return nil, errors.Annotate(err, "unpack query")
	}
	if len(req.Question) == 0 {
		return nil, ErrNoQuestion
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, errors.NotValidf("fallback ip=%v", ip)
	}

	resp := new(dns.Msg)
	if req.Question[0].Qtype == dns.TypeA {
		resp.SetReply(req)
		resp.Answer = []dns.RR{&dns.A{
			Hdr: dns.RR_Header{
				Name:   req.Question[0].Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    FallbackTTL,
			},
			A: ip4,
		}}
	} else {
		resp.SetRcode(req, dns.RcodeNameError)
	}
	resp.RecursionAvailable = true
	// answer name becomes pointer 0xC00C to the question
	resp.Compress = true

	b, err := resp.Pack()
	if err != nil {
		return nil, errors.Annotate(err, "pack fallback")
	}
	if len(resp.Answer) == 1 && req.Question[0].Name == "." {
		// miekg does not compress root name, answer gets literal 00
		off := HeaderSize + q.NameLen + 4
		if off < len(b) && b[off] == 0 {
			b = append(b[:off:off], append([]byte{0xc0, 0x0c}, b[off+1:]...)...)
		}
	}
	return b, nil
}
