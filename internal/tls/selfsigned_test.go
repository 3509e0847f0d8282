package tls

import (
	"crypto/x509"
	"net"
	"testing"
)

func TestSelfSignedCoversHosts(t *testing.T) {
	cfg, err := SelfSigned([]string{"mirror.local", "10.1.2.3"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("certificates: %d", len(cfg.Certificates))
	}
	cert, err := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"localhost", "mirror.local"} {
		if err := cert.VerifyHostname(name); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	for _, ip := range []string{"127.0.0.1", "10.1.2.3"} {
		if err := cert.VerifyHostname(ip); err != nil {
			t.Errorf("%s: %v", ip, err)
		}
	}
	if err := cert.VerifyHostname("example.com"); err == nil {
		t.Error("certificate must not cover unrelated hosts")
	}
	if got := Fingerprint(cert.Raw); len(got) != 64 {
		t.Fatalf("fingerprint length: %d", len(got))
	}
	if !cert.IPAddresses[0].Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("first IP SAN: %v", cert.IPAddresses[0])
	}
}
