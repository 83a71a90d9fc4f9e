package ingress

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/quay/zlog"
)

const (
	socks5Version = 0x05

	socks5MethodNoAuth      = 0x00
	socks5MethodNoAcceptable = 0xFF

	socks5CmdConnect = 0x01

	socks5AddrIPv4   = 0x01
	socks5AddrDomain = 0x03
	socks5AddrIPv6   = 0x04

	socks5ReplySucceeded      = 0x00
	socks5ReplyGeneralFailure = 0x01
	socks5ReplyCmdNotSupported = 0x07
)

// handleSOCKS5 negotiates a SOCKS5 session (no-auth only) and, for a
// CONNECT command, dispatches to L4_TUNNEL or L7_TLS exactly as an HTTP
// CONNECT would, per spec.md §4.9.
func (s *Server) handleSOCKS5(ctx context.Context, conn net.Conn) {
	if err := socks5Negotiate(conn); err != nil {
		zlog.Debug(ctx).Err(err).Msg("ingress: SOCKS5 method negotiation failed")
		return
	}

	hostport, err := socks5ReadRequest(conn)
	if err != nil {
		zlog.Debug(ctx).Err(err).Msg("ingress: SOCKS5 request parse failed")
		socks5WriteReply(conn, socks5ReplyGeneralFailure)
		return
	}

	if err := socks5WriteReply(conn, socks5ReplySucceeded); err != nil {
		return
	}

	host := stripPort(hostport)
	if s.MITMHosts != nil && s.MITMHosts.Match(host) && s.CertIssuer != nil {
		req, err := http.NewRequestWithContext(ctx, http.MethodConnect, "", nil)
		if err != nil {
			return
		}
		req.Host = hostport
		s.terminateTLS(ctx, conn, req, host)
		return
	}
	s.tunnelConnect(ctx, conn, hostport)
}

// socks5Negotiate reads the client's method-selection message and replies
// choosing no-authentication, the only method this server offers.
func socks5Negotiate(conn net.Conn) error {
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return fmt.Errorf("read version/nmethods: %w", err)
	}
	if hdr[0] != socks5Version {
		return fmt.Errorf("unsupported SOCKS version %#x", hdr[0])
	}
	methods := make([]byte, hdr[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return fmt.Errorf("read methods: %w", err)
	}

	chosen := byte(socks5MethodNoAcceptable)
	for _, m := range methods {
		if m == socks5MethodNoAuth {
			chosen = socks5MethodNoAuth
			break
		}
	}
	if _, err := conn.Write([]byte{socks5Version, chosen}); err != nil {
		return fmt.Errorf("write method selection: %w", err)
	}
	if chosen == socks5MethodNoAcceptable {
		return fmt.Errorf("no acceptable authentication method")
	}
	return nil
}

// socks5ReadRequest parses a SOCKS5 request, returning the target
// "host:port" for a CONNECT command. BIND and UDP ASSOCIATE are not
// supported.
func socks5ReadRequest(conn net.Conn) (string, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return "", fmt.Errorf("read request header: %w", err)
	}
	if hdr[0] != socks5Version {
		return "", fmt.Errorf("unsupported SOCKS version %#x", hdr[0])
	}
	if hdr[1] != socks5CmdConnect {
		return "", fmt.Errorf("unsupported command %#x", hdr[1])
	}

	var host string
	switch hdr[3] {
	case socks5AddrIPv4:
		addr := make([]byte, 4)
		if _, err := io.ReadFull(conn, addr); err != nil {
			return "", fmt.Errorf("read IPv4 address: %w", err)
		}
		host = net.IP(addr).String()
	case socks5AddrIPv6:
		addr := make([]byte, 16)
		if _, err := io.ReadFull(conn, addr); err != nil {
			return "", fmt.Errorf("read IPv6 address: %w", err)
		}
		host = net.IP(addr).String()
	case socks5AddrDomain:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return "", fmt.Errorf("read domain length: %w", err)
		}
		domain := make([]byte, lenBuf[0])
		if _, err := io.ReadFull(conn, domain); err != nil {
			return "", fmt.Errorf("read domain: %w", err)
		}
		host = string(domain)
	default:
		return "", fmt.Errorf("unsupported address type %#x", hdr[3])
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(conn, portBuf); err != nil {
		return "", fmt.Errorf("read port: %w", err)
	}
	port := binary.BigEndian.Uint16(portBuf)
	return net.JoinHostPort(host, strconv.Itoa(int(port))), nil
}

// socks5WriteReply writes a SOCKS5 reply with a null BND.ADDR/BND.PORT,
// sufficient for a client that only cares about the reply code.
func socks5WriteReply(conn net.Conn, code byte) error {
	reply := []byte{socks5Version, code, 0x00, socks5AddrIPv4, 0, 0, 0, 0, 0, 0}
	_, err := conn.Write(reply)
	return err
}
