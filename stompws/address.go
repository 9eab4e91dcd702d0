package stompws

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// BrokerAddress is a parsed ws:// broker URL. Parsed once per Connect
// and immutable afterward.
type BrokerAddress struct {
	Host string
	Port int
	Path string
}

// HostPort returns the dialable "host:port" form.
func (a BrokerAddress) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ParseBrokerURL parses "ws://host:port[/path]". The scheme is
// stripped and must be ws; wss is not supported. The port must be
// numeric and positive. The path defaults to "/" when absent.
func ParseBrokerURL(raw string) (BrokerAddress, error) {
	rest, ok := strings.CutPrefix(raw, "ws://")
	if !ok {
		return BrokerAddress{}, fmt.Errorf("%w: %q must use the ws:// scheme", ErrInvalidAddress, raw)
	}

	hostport := rest
	path := "/"
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		hostport = rest[:i]
		path = rest[i:]
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return BrokerAddress{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, raw, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return BrokerAddress{}, fmt.Errorf("%w: %q: port must be numeric and positive", ErrInvalidAddress, raw)
	}
	if host == "" {
		return BrokerAddress{}, fmt.Errorf("%w: %q: empty host", ErrInvalidAddress, raw)
	}

	return BrokerAddress{Host: host, Port: port, Path: path}, nil
}
