package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// chainExportLabel is the TLS exporter label for session-bound chain seeds.
const chainExportLabel = "EXPORTER-quip-hash-chain"

// ServerTLSConfig returns the listener configuration: TLS 1.2 with a single
// ECDHE-ECDSA AES-256-GCM suite, no session resumption and no client
// certificates.
func ServerTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates:           []tls.Certificate{cert},
		MinVersion:             tls.VersionTLS12,
		MaxVersion:             tls.VersionTLS12,
		CipherSuites:           []uint16{tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384},
		CurvePreferences:       []tls.CurveID{tls.X25519, tls.CurveP256},
		SessionTicketsDisabled: true,
		ClientAuth:             tls.NoClientCert,
		Renegotiation:          tls.RenegotiateNever,
	}
}

// ClientTLSConfig returns the dialing configuration. Peer certificates are
// not verified; peers authenticate through signed envelopes.
func ClientTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:             tls.VersionTLS12,
		MaxVersion:             tls.VersionTLS12,
		CipherSuites:           []uint16{tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384},
		CurvePreferences:       []tls.CurveID{tls.X25519, tls.CurveP256},
		SessionTicketsDisabled: true,
		Renegotiation:          tls.RenegotiateNever,
		InsecureSkipVerify:     true, //nolint:gosec // trust is established by envelope signatures
	}
}

// LoadServerCertificate loads a PEM certificate and key.
func LoadServerCertificate(certFile, keyFile string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load certificate: %w", err)
	}
	return cert, nil
}

// SelfSignedCertificate generates an ECDSA P-256 certificate for host.
func SelfSignedCertificate(host string, validFor time.Duration) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(validFor),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{host},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}

// ChainSeed returns a per-connection chain origin derived from the TLS
// session. Both ends of one connection derive the same value.
func ChainSeed(state tls.ConnectionState) (string, error) {
	material, err := state.ExportKeyingMaterial(chainExportLabel, nil, 20)
	if err != nil {
		return "", fmt.Errorf("export keying material: %w", err)
	}
	return hex.EncodeToString(material), nil
}
