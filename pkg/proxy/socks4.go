package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"

	xproxy "golang.org/x/net/proxy"
)

func init() {
	xproxy.RegisterDialerType("socks4", newSOCKS4)
	xproxy.RegisterDialerType("socks4a", newSOCKS4)
}

const (
	socks4Version = 0x04
	socks4Connect = 0x01
	socks4Granted = 0x5a
)

var errSOCKS4Rejected = errors.New("socks4: request rejected")

// socks4Dialer speaks SOCKS4a: IPv4 targets are sent as addresses,
// host names are left for the proxy to resolve.
type socks4Dialer struct {
	addr    string
	userID  string
	forward xproxy.Dialer
}

func newSOCKS4(u *url.URL, forward xproxy.Dialer) (xproxy.Dialer, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("socks4: missing proxy address")
	}
	return &socks4Dialer{addr: u.Host, userID: u.User.Username(), forward: forward}, nil
}

func (d *socks4Dialer) Dial(network, addr string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, addr)
}

func (d *socks4Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network != "tcp" && network != "tcp4" {
		return nil, fmt.Errorf("socks4: unsupported network %s", network)
	}
	req, err := socks4Request(addr, d.userID)
	if err != nil {
		return nil, err
	}

	conn, err := dialForward(ctx, d.forward, d.addr)
	if err != nil {
		return nil, fmt.Errorf("socks4: dial proxy: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := socks4Handshake(conn, req); err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

func dialForward(ctx context.Context, forward xproxy.Dialer, addr string) (net.Conn, error) {
	if cd, ok := forward.(xproxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", addr)
	}
	return forward.Dial("tcp", addr)
}

// socks4Request builds the CONNECT request for addr.
func socks4Request(addr, userID string) ([]byte, error) {
	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("socks4: %w", err)
	}
	port, err := strconv.ParseUint(portText, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("socks4: invalid port %q", portText)
	}

	req := []byte{socks4Version, socks4Connect, byte(port >> 8), byte(port)}
	ip := net.ParseIP(host)
	if ip != nil && ip.To4() == nil {
		return nil, fmt.Errorf("socks4: IPv6 target %s not supported", host)
	}
	if ip != nil {
		req = append(req, ip.To4()...)
	} else {
		// 0.0.0.x marks a 4a request carrying the host name.
		req = append(req, 0, 0, 0, 1)
	}
	req = append(req, userID...)
	req = append(req, 0)
	if ip == nil {
		req = append(req, host...)
		req = append(req, 0)
	}
	return req, nil
}

func socks4Handshake(conn net.Conn, req []byte) error {
	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("socks4: write request: %w", err)
	}
	var resp [8]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		return fmt.Errorf("socks4: read reply: %w", err)
	}
	if resp[1] != socks4Granted {
		return fmt.Errorf("%w (code 0x%02x)", errSOCKS4Rejected, resp[1])
	}
	return nil
}
