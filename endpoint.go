package rediscluster

import (
	"fmt"
	"strconv"
	"strings"
)

// Endpoint identifies a cluster member by host and port. Its Key is
// the stable "host:port" identity used throughout the SlotMap and
// Pool (spec §3, Endpoint).
type Endpoint struct {
	Host     string
	Port     int
	ReadOnly bool
}

// Key returns the stable "host:port" identity of the endpoint.
func (e Endpoint) Key() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// ParseEndpoint accepts a "host:port" string, optionally prefixed with
// "redis://"; a bare host without a port is rejected. Any trailing
// "/db" selector is stripped: cluster sessions are always logical
// database 0 (spec §6).
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimPrefix(s, "redis://")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	host, portStr, err := splitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddr, s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddr, s, err)
	}
	return Endpoint{Host: host, Port: port}, nil
}

func splitHostPort(s string) (host, port string, err error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return "", "", fmt.Errorf("missing port")
	}
	return s[:i], s[i+1:], nil
}

// endpointKey is a convenience for building the "host:port" key
// without allocating an Endpoint value.
func endpointKey(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
