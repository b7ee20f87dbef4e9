package sipstack

import (
	"context"
	"net"
	"strings"

	"github.com/voxgrid/sipstack/sip"
)

type UserAgent struct {
	name     string
	hostname string
	ip       net.IP
	host     string
	port     int

	dnsResolver *net.Resolver
	tp          *sip.TransportLayer
	tx          *sip.TransactionLayer
}

type UserAgentOption func(s *UserAgent) error

func WithUserAgent(ua string) UserAgentOption {
	return func(s *UserAgent) error {
		s.name = ua
		return nil
	}
}

// WithUserAgentHostname sets the host used in the From header this UA's
// clients build by default (see buildRequiredHeaders), distinct from the IP
// WithIP resolves for routing.
func WithUserAgentHostname(hostname string) UserAgentOption {
	return func(s *UserAgent) error {
		s.hostname = hostname
		return nil
	}
}

func WithIP(ip string) UserAgentOption {
	return func(s *UserAgent) error {
		host, _, err := net.SplitHostPort(ip)
		if err != nil {
			return err
		}
		addr, err := net.ResolveIPAddr("ip", host)
		if err != nil {
			return err
		}
		return s.setIP(addr.IP)
	}
}

func WithDNSResolver(r *net.Resolver) UserAgentOption {
	return func(s *UserAgent) error {
		s.dnsResolver = r
		return nil
	}
}

func WithUDPDNSResolver(dns string) ServerOption {
	return func(s *Server) error {
		s.dnsResolver = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				d := net.Dialer{}
				return d.DialContext(ctx, "udp", dns)
			},
		}
		return nil
	}
}

// defaultUserAgentName is used for the From header's display name and
// User-Agent header when no WithUserAgent option overrides it.
const defaultUserAgentName = "sipstack"

func NewUA(options ...UserAgentOption) (*UserAgent, error) {
	s := &UserAgent{name: defaultUserAgentName}

	for _, o := range options {
		if err := o(s); err != nil {
			return nil, err
		}
	}

	if s.ip == nil {
		v, err := sip.ResolveSelfIP()
		if err != nil {
			return nil, err
		}
		if err := s.setIP(v); err != nil {
			return nil, err
		}
	}

	s.tp = sip.NewTransportLayer(s.dnsResolver, sip.NewParser(), nil)
	s.tx = sip.NewTransactionLayer(s.tp)
	return s, nil
}

// setIP records ip as the user agent's address.
func (ua *UserAgent) setIP(ip net.IP) (err error) {
	ua.ip = ip
	ua.host = strings.Split(ip.String(), ":")[0]
	return err
}
