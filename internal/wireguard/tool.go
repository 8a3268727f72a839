package wireguard

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Runner executes an external command and returns its stdout.
type Runner func(ctx context.Context, stdin string, name string, args ...string) ([]byte, error)

type ToolConfig struct {
	Interface  string `mapstructure:"interface"`
	Binary     string `mapstructure:"binary"`
	NativeKeys bool   `mapstructure:"native_keys"`
}

// Tool drives a kernel or userspace WireGuard interface through the `wg` CLI.
type Tool struct {
	iface      string
	binary     string
	nativeKeys bool
	run        Runner
}

func NewTool(cfg ToolConfig) *Tool {
	binary := cfg.Binary
	if binary == "" {
		binary = "wg"
	}
	return &Tool{
		iface:      cfg.Interface,
		binary:     binary,
		nativeKeys: cfg.NativeKeys,
		run:        execRunner,
	}
}

// WithRunner replaces the command runner, mainly for tests.
func (t *Tool) WithRunner(r Runner) *Tool {
	t.run = r
	return t
}

func (t *Tool) GenerateKeypair(ctx context.Context) (Keypair, error) {
	if t.nativeKeys {
		return GenerateNativeKeypair()
	}

	priv, err := t.run(ctx, "", t.binary, "genkey")
	if err != nil {
		return Keypair{}, fmt.Errorf("%w: genkey: %v", ErrKeyGeneration, err)
	}
	privateKey := strings.TrimSpace(string(priv))

	pub, err := t.run(ctx, privateKey+"\n", t.binary, "pubkey")
	if err != nil {
		return Keypair{}, fmt.Errorf("%w: pubkey: %v", ErrKeyGeneration, err)
	}

	return Keypair{
		PrivateKey: privateKey,
		PublicKey:  strings.TrimSpace(string(pub)),
	}, nil
}

func (t *Tool) ListActivePeers(ctx context.Context) ([]Peer, error) {
	out, err := t.run(ctx, "", t.binary, "show", t.iface, "dump")
	if err != nil {
		return nil, fmt.Errorf("wg show %s: %w", t.iface, err)
	}
	return ParseDump(out)
}

func (t *Tool) RegisterPeer(ctx context.Context, peer Peer) error {
	allowed := make([]string, len(peer.AllowedIPs))
	for i, p := range peer.AllowedIPs {
		allowed[i] = p.String()
	}

	args := []string{"set", t.iface, "peer", peer.PublicKey, "allowed-ips", strings.Join(allowed, ",")}
	if peer.PersistentKeepalive > 0 {
		args = append(args, "persistent-keepalive", strconv.Itoa(int(peer.PersistentKeepalive/time.Second)))
	}

	if _, err := t.run(ctx, "", t.binary, args...); err != nil {
		return fmt.Errorf("wg set %s peer: %w", t.iface, err)
	}
	slog.Debug("Peer registered on interface", "interface", t.iface, "public_key", peer.PublicKey, "allowed_ips", allowed)
	return nil
}

func (t *Tool) RemovePeer(ctx context.Context, publicKey string) error {
	if _, err := t.run(ctx, "", t.binary, "set", t.iface, "peer", publicKey, "remove"); err != nil {
		return fmt.Errorf("wg set %s peer remove: %w", t.iface, err)
	}
	slog.Debug("Peer removed from interface", "interface", t.iface, "public_key", publicKey)
	return nil
}

// ParseDump reads `wg show <iface> dump` output. The first line describes the
// interface itself; every following line is one tab-separated peer:
// public-key, preshared-key, endpoint, allowed-ips, latest-handshake, rx, tx, keepalive.
func ParseDump(out []byte) ([]Peer, error) {
	var peers []Peer
	sc := bufio.NewScanner(bytes.NewReader(out))
	line := 0
	for sc.Scan() {
		line++
		if line == 1 {
			continue
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 8 {
			return nil, fmt.Errorf("dump line %d: expected 8 fields, got %d", line, len(fields))
		}

		peer := Peer{PublicKey: fields[0]}
		if fields[3] != "(none)" && fields[3] != "" {
			for _, raw := range strings.Split(fields[3], ",") {
				pfx, err := netip.ParsePrefix(strings.TrimSpace(raw))
				if err != nil {
					return nil, fmt.Errorf("dump line %d: allowed ip %q: %w", line, raw, err)
				}
				peer.AllowedIPs = append(peer.AllowedIPs, pfx)
			}
		}
		if ka := fields[7]; ka != "off" && ka != "" {
			secs, err := strconv.Atoi(ka)
			if err != nil {
				return nil, fmt.Errorf("dump line %d: keepalive %q: %w", line, ka, err)
			}
			peer.PersistentKeepalive = time.Duration(secs) * time.Second
		}
		peers = append(peers, peer)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return peers, nil
}

func execRunner(ctx context.Context, stdin string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", name, args[0], err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", name, args[0], err)
	}
	return out, nil
}
