package dnsrelay

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"

	"github.com/juju/errors"
	"github.com/miekg/dns"
)

const (
	HeaderSize = 12
	maxName    = 255
)

var (
	ErrShortHeader    = errors.New("datagram shorter than DNS header")
	ErrNoQuestion     = errors.New("no question")
	ErrNameBounds     = errors.New("question name out of bounds")
	ErrQuestionBounds = errors.New("question type/class out of bounds")
)

// Query is one received datagram with decoded first question.
// Raw is forwarded upstream verbatim.
type Query struct {
	Raw     []byte
	ID      uint16
	Flags   uint16
	QDCount uint16
	Name    string // presentation form for logs
	NameLen int    // encoded name length including terminating zero
	Type    uint16
	Class   uint16
	Source  *net.UDPAddr
}

// DecodeQuery validates header and first question against buffer length.
func DecodeQuery(b []byte) (*Query, error) {
	if len(b) < HeaderSize {
		return nil, errors.Annotatef(ErrShortHeader, "length=%d", len(b))
	}
	q := &Query{
		Raw:     b,
		ID:      binary.BigEndian.Uint16(b[0:2]),
		Flags:   binary.BigEndian.Uint16(b[2:4]),
		QDCount: binary.BigEndian.Uint16(b[4:6]),
	}
	if q.QDCount == 0 {
		return nil, ErrNoQuestion
	}

	var name strings.Builder
	off := HeaderSize
	for {
		if off >= len(b) {
			return nil, errors.Annotatef(ErrNameBounds, "offset=%d length=%d", off, len(b))
		}
		label := int(b[off])
		if label == 0 {
			off++
			break
		}
		if label&0xc0 != 0 {
			return nil, errors.Annotatef(ErrNameBounds, "label type=%#x offset=%d", label&0xc0, off)
		}
		if off+1+label > len(b) {
			return nil, errors.Annotatef(ErrNameBounds, "label length=%d offset=%d length=%d", label, off, len(b))
		}
		name.Write(b[off+1 : off+1+label])
		name.WriteByte('.')
		off += 1 + label
		if off-HeaderSize > maxName {
			return nil, errors.Annotatef(ErrNameBounds, "name longer than %d", maxName)
		}
	}
	q.NameLen = off - HeaderSize
	q.Name = name.String()
	if q.Name == "" {
		q.Name = "."
	}

	if off+4 > len(b) {
		return nil, errors.Annotatef(ErrQuestionBounds, "need=%d length=%d", off+4, len(b))
	}
	q.Type = binary.BigEndian.Uint16(b[off : off+2])
	q.Class = binary.BigEndian.Uint16(b[off+2 : off+4])
	return q, nil
}

func (q *Query) String() string {
	return fmt.Sprintf("(id=%d name=%s type=%s source=%v)", q.ID, q.Name, typeString(q.Type), q.Source)
}

func typeString(t uint16) string {
	if s, ok := dns.TypeToString[t]; ok {
		return s
	}
	return fmt.Sprintf("TYPE%d", t)
}
