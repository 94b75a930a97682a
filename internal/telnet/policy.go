package telnet

// OptionSet is a set of telnet option codes.
type OptionSet map[byte]struct{}

func NewOptionSet(opts ...byte) OptionSet {
	s := make(OptionSet, len(opts))
	for _, o := range opts {
		s[o] = struct{}{}
	}
	return s
}

func (s OptionSet) Has(opt byte) bool {
	_, ok := s[opt]
	return ok
}

// Policy decides answers to unsolicited peer requests.
// DO x is answered WILL x when x is in Local, otherwise WONT x.
// WILL x is answered DO x when x is in Remote, otherwise DONT x.
// DONT x is always answered WONT x, WONT x is always answered DONT x.
type Policy struct {
	Local  OptionSet
	Remote OptionSet
}

var (
	// Outbound sessions report window size and terminal type,
	// let the remote side echo and suppress go-ahead.
	ClientPolicy = Policy{
		Local:  NewOptionSet(NAWS, TerminalType),
		Remote: NewOptionSet(Echo, SGA),
	}

	// Console sessions only offer SGA and decline the rest.
	ServerPolicy = Policy{
		Local:  NewOptionSet(SGA),
		Remote: NewOptionSet(),
	}
)

// Reply returns answer command for peer command cmd about opt.
func (p Policy) Reply(cmd, opt byte) byte {
	switch cmd {
	case DO:
		if p.Local.Has(opt) {
			return WILL
		}
		return WONT
	case DONT:
		return WONT
	case WILL:
		if p.Remote.Has(opt) {
			return DO
		}
		return DONT
	case WONT:
		return DONT
	}
	panic("code error Policy.Reply cmd=" + CommandName(cmd))
}
