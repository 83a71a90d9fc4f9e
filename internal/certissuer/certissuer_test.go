package certissuer

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func TestIssueLeafIsSignedByRootCA(t *testing.T) {
	issuer, err := New("safechain-proxy root")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	block, _ := pem.Decode(issuer.RootCAPEM())
	if block == nil {
		t.Fatal("RootCAPEM did not decode as PEM")
	}
	caCert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse CA cert: %v", err)
	}

	cert, err := issuer.IssueLeaf(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("IssueLeaf: %v", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse leaf cert: %v", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(caCert)
	if _, err := leaf.Verify(x509.VerifyOptions{DNSName: "example.com", Roots: pool}); err != nil {
		t.Errorf("leaf did not verify against root CA: %v", err)
	}
}

func TestIssueLeafCachesBySNI(t *testing.T) {
	issuer, err := New("safechain-proxy root")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a, err := issuer.IssueLeaf(context.Background(), "cached.example")
	if err != nil {
		t.Fatalf("IssueLeaf: %v", err)
	}
	b, err := issuer.IssueLeaf(context.Background(), "cached.example")
	if err != nil {
		t.Fatalf("IssueLeaf: %v", err)
	}
	if string(a.Certificate[0]) != string(b.Certificate[0]) {
		t.Error("expected cached leaf certificate to be reused for the same SNI")
	}
}
