package ingress

import (
	"net"
	"testing"
)

func TestSocks5NegotiateChoosesNoAuth(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- socks5Negotiate(server) }()

	// version 5, 1 method, no-auth
	if _, err := client.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := make([]byte, 2)
	if _, err := client.Read(resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp[0] != 0x05 || resp[1] != socks5MethodNoAuth {
		t.Errorf("response = %v, want [5 0]", resp)
	}
	if err := <-errCh; err != nil {
		t.Errorf("socks5Negotiate: %v", err)
	}
}

func TestSocks5NegotiateRejectsNoAcceptableMethod(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- socks5Negotiate(server) }()

	// version 5, 1 method, username/password (0x02) only
	client.Write([]byte{0x05, 0x01, 0x02})
	resp := make([]byte, 2)
	client.Read(resp)
	if resp[1] != socks5MethodNoAcceptable {
		t.Errorf("chosen method = %#x, want no-acceptable", resp[1])
	}
	if err := <-errCh; err == nil {
		t.Error("expected an error when no acceptable method is offered")
	}
}

func TestSocks5ReadRequestParsesDomainAddress(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	domain := "registry.npmjs.org"
	msg := []byte{socks5Version, socks5CmdConnect, 0x00, socks5AddrDomain, byte(len(domain))}
	msg = append(msg, []byte(domain)...)
	msg = append(msg, 0x01, 0xBB) // port 443

	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		hostport, err := socks5ReadRequest(server)
		resultCh <- hostport
		errCh <- err
	}()

	client.Write(msg)
	hostport := <-resultCh
	if err := <-errCh; err != nil {
		t.Fatalf("socks5ReadRequest: %v", err)
	}
	if hostport != "registry.npmjs.org:443" {
		t.Errorf("hostport = %q, want registry.npmjs.org:443", hostport)
	}
}

func TestSocks5ReadRequestParsesIPv4Address(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	msg := []byte{socks5Version, socks5CmdConnect, 0x00, socks5AddrIPv4, 93, 184, 216, 34, 0x00, 0x50}

	resultCh := make(chan string, 1)
	go func() {
		hostport, _ := socks5ReadRequest(server)
		resultCh <- hostport
	}()

	client.Write(msg)
	if got := <-resultCh; got != "93.184.216.34:80" {
		t.Errorf("hostport = %q, want 93.184.216.34:80", got)
	}
}

func TestSocks5ReadRequestRejectsUnsupportedCommand(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := socks5ReadRequest(server)
		errCh <- err
	}()

	// BIND command (0x02), not CONNECT
	client.Write([]byte{socks5Version, 0x02, 0x00, socks5AddrIPv4, 1, 2, 3, 4, 0, 0})
	if err := <-errCh; err == nil {
		t.Error("expected an error for an unsupported command")
	}
}
