// Package certissuer supplies the one concrete implementation of the
// opaque CertIssuer contract spec.md §1 treats as an external
// collaborator: an in-memory root CA plus per-SNI leaf certificates,
// signed on demand and cached so a repeat connection to the same host
// doesn't re-sign.
package certissuer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// leafValidity bounds how long an issued leaf certificate is valid. Kept
// short since a fresh process reissues everything on restart anyway.
const leafValidity = 24 * time.Hour

// Issuer mints TLS leaf certificates on demand for a given SNI, signed by
// an in-memory root CA, and exposes that root CA's PEM encoding for the
// meta server's /ca endpoint.
type Issuer struct {
	caCert *x509.Certificate
	caKey  *ecdsa.PrivateKey
	caPEM  []byte

	mu    sync.Mutex
	cache map[string]tls.Certificate
}

// New generates a fresh self-signed root CA and returns an Issuer ready
// to mint leaves for it.
func New(commonName string) (*Issuer, error) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("certissuer: generate CA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, fmt.Errorf("certissuer: generate CA serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"safechain-proxy"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("certissuer: create CA certificate: %w", err)
	}
	caCert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("certissuer: parse CA certificate: %w", err)
	}

	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	return &Issuer{
		caCert: caCert,
		caKey:  caKey,
		caPEM:  pemBytes,
		cache:  make(map[string]tls.Certificate),
	}, nil
}

// RootCAPEM implements [internal/metaserver.CAPEM].
func (i *Issuer) RootCAPEM() []byte { return i.caPEM }

// IssueLeaf implements [internal/ingress.CertIssuer]: it mints (or
// returns a cached) leaf certificate for sni, signed by the root CA.
func (i *Issuer) IssueLeaf(ctx context.Context, sni string) (tls.Certificate, error) {
	i.mu.Lock()
	if cert, ok := i.cache[sni]; ok {
		i.mu.Unlock()
		return cert, nil
	}
	i.mu.Unlock()

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certissuer: generate leaf key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certissuer: generate leaf serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: sni},
		DNSNames:     []string{sni},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, i.caCert, &leafKey.PublicKey, i.caKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certissuer: sign leaf for %q: %w", sni, err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{der, i.caCert.Raw},
		PrivateKey:  leafKey,
	}

	i.mu.Lock()
	i.cache[sni] = cert
	i.mu.Unlock()

	return cert, nil
}
