package client

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
)

const (
	DefaultHost = "main.home"
	DefaultPort = 8080
)

var ErrInvalidHost = errors.New("client: invalid host")

var (
	hostnamePattern = regexp.MustCompile(`^(([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9\-]*[a-zA-Z0-9])\.)*([A-Za-z0-9]|[A-Za-z0-9][A-Za-z0-9\-]*[A-Za-z0-9])$`)
	ipPattern       = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)
)

// ValidateHost accepts a DNS hostname or a dotted IPv4 quad.
func ValidateHost(host string) error {
	if hostnamePattern.MatchString(host) || ipPattern.MatchString(host) {
		return nil
	}

	return fmt.Errorf("%w: %q", ErrInvalidHost, host)
}

// Target is the host a pad connects to.
type Target struct {
	Host string
	Port int
}

func DefaultTarget() Target {
	return Target{Host: DefaultHost, Port: DefaultPort}
}

func (t Target) Validate() error {
	if err := ValidateHost(t.Host); err != nil {
		return err
	}

	if t.Port <= 0 || t.Port > 65535 {
		return fmt.Errorf("%w: port %v", ErrInvalidHost, t.Port)
	}

	return nil
}

func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// URL is the event channel endpoint for t; secure selects wss.
func (t Target) URL(secure bool) string {
	u := url.URL{Scheme: "ws", Host: t.Addr(), Path: "/"}
	if secure {
		u.Scheme = "wss"
	}

	return u.String()
}

func (t Target) String() string {
	return t.Addr()
}
