package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"manualpilot/remotepad/internal/protocol"
)

// FetchHostConfig asks the host at host:port which address and ports it
// serves on. Failure is not an error for the caller: the answer then falls
// back to host itself with default ports, and err says what went wrong.
// A secure host is asked over https.
func FetchHostConfig(ctx context.Context, client *http.Client, host string, port int, secure bool) (protocol.HostInfo, error) {
	if host == "" {
		host = DefaultHost
	}

	if port <= 0 {
		port = DefaultPort
	}

	fallback := protocol.HostInfo{
		IP:    host,
		Ports: protocol.Ports{HTTP: port, WS: port},
	}

	if client == nil {
		client = http.DefaultClient
	}

	scheme := "http"
	if secure {
		scheme = "https"
	}

	target := Target{Host: host, Port: port}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+target.Addr()+"/ip", nil)
	if err != nil {
		return fallback, err
	}

	res, err := client.Do(req)
	if err != nil {
		return fallback, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fallback, fmt.Errorf("client: discovery status %v", res.StatusCode)
	}

	info := protocol.HostInfo{}
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return fallback, err
	}

	if info.Ports.WS <= 0 {
		info.Ports.WS = fallback.Ports.WS
	}

	if info.Ports.HTTP <= 0 {
		info.Ports.HTTP = fallback.Ports.HTTP
	}

	if info.IP == "" {
		info.IP = host
	}

	return info, nil
}

// TargetFor picks the event channel address from a discovery answer. A host
// that only knows itself as localhost is reached by the name we asked for.
func TargetFor(info protocol.HostInfo, asked string) Target {
	host := info.IP
	if host == "" || host == "localhost" || ValidateHost(host) != nil {
		host = asked
	}

	port := info.Ports.WS
	if port <= 0 {
		port = DefaultPort
	}

	return Target{Host: host, Port: port}
}
