package artifact

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/skip2/go-qrcode"
)

const DefaultQRSize = 512

// ServerParams are the server-side values shared by every client configuration.
type ServerParams struct {
	PublicKey    string   `mapstructure:"server_public_key"`
	EndpointHost string   `mapstructure:"endpoint_host"`
	EndpointPort int      `mapstructure:"endpoint_port"`
	DNS          []string `mapstructure:"dns"`
	AllowedIPs   []string `mapstructure:"allowed_ips"`
	Keepalive    int      `mapstructure:"keepalive"`
}

// Endpoint formats host:port, bracketing IPv6 literals.
func (s ServerParams) Endpoint() string {
	host := s.EndpointHost
	if addr, err := netip.ParseAddr(host); err == nil && addr.Is6() {
		host = "[" + host + "]"
	}
	return host + ":" + strconv.Itoa(s.EndpointPort)
}

// RenderConfig produces the client-side tunnel configuration. The output is a pure
// function of its inputs, so re-rendering an unchanged record is byte-identical.
func RenderConfig(privateKey string, address netip.Addr, server ServerParams) string {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", privateKey)
	fmt.Fprintf(&b, "Address = %s/32\n", address)
	if len(server.DNS) > 0 {
		fmt.Fprintf(&b, "DNS = %s\n", strings.Join(server.DNS, ", "))
	}
	b.WriteString("\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", server.PublicKey)
	fmt.Fprintf(&b, "Endpoint = %s\n", server.Endpoint())
	fmt.Fprintf(&b, "AllowedIPs = %s\n", strings.Join(server.AllowedIPs, ", "))
	fmt.Fprintf(&b, "PersistentKeepalive = %d\n", server.Keepalive)
	return b.String()
}

// RenderQR encodes the configuration text as a PNG QR code.
func RenderQR(config string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(config, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return png, nil
}
