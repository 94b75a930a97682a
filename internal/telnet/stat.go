package telnet

// Values are read and modified atomically, but not consistently,
// i.e. it is possible to read Recv.Count=1 Recv.Size=0 because Size has not updated yet.

import (
	"expvar"
	"fmt"
)

type Stat struct {
	Conn  expvar.Int
	Lines expvar.Int
	Recv  CountSizePair
	Send  CountSizePair
}

func (s *Stat) Add(other *Stat) {
	s.Conn.Add(other.Conn.Value())
	s.Lines.Add(other.Lines.Value())
	s.Recv.Add(&other.Recv)
	s.Send.Add(&other.Send)
}

// AddMoveFrom transfers counters of finished connection into aggregate.
func (s *Stat) AddMoveFrom(other *Stat) {
	tmp := other.Value()
	s.Add(&tmp)
	other.Sub(&tmp)
}

func (s *Stat) Sub(other *Stat) {
	s.Conn.Add(-other.Conn.Value())
	s.Lines.Add(-other.Lines.Value())
	s.Recv.Sub(&other.Recv)
	s.Send.Sub(&other.Send)
}

func (s *Stat) Value() (r Stat) {
	r.Conn.Set(s.Conn.Value())
	r.Lines.Set(s.Lines.Value())
	r.Recv.Set(s.Recv.Value())
	r.Send.Set(s.Send.Value())
	return
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"conn":%d,"lines":%d,"recv.count":%d,"recv.size":%d,"send.count":%d,"send.size":%d}`,
		s.Conn.Value(), s.Lines.Value(),
		s.Recv.Count.Value(), s.Recv.Size.Value(),
		s.Send.Count.Value(), s.Send.Size.Value())
}

type CountSizePair struct {
	Count expvar.Int
	Size  expvar.Int
}

func (csp *CountSizePair) Add(other *CountSizePair) {
	csp.Count.Add(other.Count.Value())
	csp.Size.Add(other.Size.Value())
}

func (csp *CountSizePair) Value() (r CountSizePair) {
	r.Count.Set(csp.Count.Value())
	r.Size.Set(csp.Size.Value())
	return
}

func (csp *CountSizePair) Set(new CountSizePair) {
	csp.Count.Set(new.Count.Value())
	csp.Size.Set(new.Size.Value())
}

func (csp *CountSizePair) Sub(other *CountSizePair) {
	csp.Count.Add(-other.Count.Value())
	csp.Size.Add(-other.Size.Value())
}
