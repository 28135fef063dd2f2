package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/HerbHall/apwatch/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// DefaultCommands is the strategy order tried when a source lists none.
// Known names select a built-in command and parser; any other entry is run
// verbatim and parsed line by line for MACs, IPv4 addresses and signal.
var DefaultCommands = []string{"iwinfo", "iw", "ip_neigh", "arp"}

var ifaceName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// runner executes one shell command on the device.
type runner interface {
	Run(ctx context.Context, cmd string) (string, error)
	Close() error
}

// SSHAdapter polls a device by running commands over SSH.
type SSHAdapter struct {
	cfg    Config
	logger *zap.Logger
	run    runner
}

// NewSSH returns an adapter that connects on first poll and reuses the
// connection until it fails.
func NewSSH(cfg Config, logger *zap.Logger) *SSHAdapter {
	return &SSHAdapter{
		cfg:    cfg,
		logger: logger,
		run:    &sshRunner{cfg: cfg},
	}
}

// Poll tries each configured command until one yields clients.
func (a *SSHAdapter) Poll(ctx context.Context) ([]models.RawRecord, error) {
	var lastErr error
	failed := 0
	for _, name := range a.cfg.Commands {
		recs, err := a.strategy(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, unavailable(a.cfg.ID, ctx.Err())
			}
			a.logger.Debug("command failed, trying next", zap.String("command", name), zap.Error(err))
			lastErr = err
			failed++
			continue
		}
		if len(recs) == 0 {
			continue
		}
		if a.cfg.enrich() {
			enrich(recs, a.leases(ctx))
		}
		return recs, nil
	}
	if failed == len(a.cfg.Commands) && lastErr != nil {
		return nil, unavailable(a.cfg.ID, lastErr)
	}
	return []models.RawRecord{}, nil
}

func (a *SSHAdapter) strategy(ctx context.Context, name string) ([]models.RawRecord, error) {
	switch name {
	case "iwinfo":
		ifaces, err := a.wirelessInterfaces(ctx, true)
		if err != nil {
			return nil, err
		}
		return a.perInterface(ctx, ifaces, "iwinfo %s assoclist", parseAssoclist)
	case "iw":
		ifaces, err := a.wirelessInterfaces(ctx, false)
		if err != nil {
			return nil, err
		}
		return a.perInterface(ctx, ifaces, "iw dev %s station dump", parseStationDump)
	case "ip_neigh":
		out, err := a.run.Run(ctx, "ip neigh show 2>/dev/null")
		if err != nil {
			return nil, err
		}
		return parseNeighbors(out), nil
	case "arp":
		out, err := a.run.Run(ctx, "cat /proc/net/arp")
		if err != nil {
			return nil, err
		}
		return parseNeighbors(out), nil
	default:
		out, err := a.run.Run(ctx, name)
		if err != nil {
			return nil, err
		}
		return parseGeneric(out), nil
	}
}

func (a *SSHAdapter) wirelessInterfaces(ctx context.Context, tryIwinfo bool) ([]string, error) {
	if tryIwinfo {
		if out, err := a.run.Run(ctx, "iwinfo 2>/dev/null"); err == nil {
			if ifaces := parseIwinfoInterfaces(out); len(ifaces) > 0 {
				return ifaces, nil
			}
		} else if ctx.Err() != nil {
			return nil, err
		}
	}
	out, err := a.run.Run(ctx, "iw dev 2>/dev/null")
	if err != nil {
		return nil, err
	}
	return parseIwDevInterfaces(out), nil
}

func (a *SSHAdapter) perInterface(ctx context.Context, ifaces []string, format string,
	parse func(out, iface string) []models.RawRecord) ([]models.RawRecord, error) {
	if len(ifaces) == 0 {
		return nil, errors.New("no wireless interfaces")
	}
	var recs []models.RawRecord
	var lastErr error
	ok := 0
	for _, iface := range ifaces {
		if !ifaceName.MatchString(iface) {
			continue
		}
		out, err := a.run.Run(ctx, fmt.Sprintf(format, iface)+" 2>/dev/null")
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		ok++
		recs = append(recs, parse(out, iface)...)
	}
	if ok == 0 && lastErr != nil {
		return nil, lastErr
	}
	return recs, nil
}

// odhcpdLeases prints the DHCPv6 state file from either of its usual paths.
const odhcpdLeases = "cat /tmp/odhcpd.leases 2>/dev/null || cat /tmp/hosts/odhcpd 2>/dev/null"

// leases reads dynamic and static DHCP bindings. Failures only cost enrichment.
func (a *SSHAdapter) leases(ctx context.Context) []lease {
	var out []lease
	if dyn, err := a.run.Run(ctx, "cat /tmp/dhcp.leases"); err == nil {
		out = append(out, parseDHCPLeases(dyn)...)
	}
	if static, err := a.run.Run(ctx, "uci show dhcp"); err == nil {
		out = append(out, parseUCIHosts(static)...)
	}
	if v6, err := a.run.Run(ctx, odhcpdLeases); err == nil {
		out = append(out, parseODHCPDLeases(v6)...)
	}
	return out
}

// Close drops the SSH connection.
func (a *SSHAdapter) Close() error {
	return a.run.Close()
}

// sshRunner keeps one client connection per source.
type sshRunner struct {
	cfg Config

	mu     sync.Mutex
	client *ssh.Client
}

func (r *sshRunner) clientConfig() *ssh.ClientConfig {
	password := r.cfg.Password
	return &ssh.ClientConfig{
		User: r.cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // G106: router host keys are not pinned yet
		Timeout:         r.cfg.Timeout,
	}
}

func (r *sshRunner) connect(ctx context.Context) (*ssh.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}

	addr := net.JoinHostPort(r.cfg.Host, strconv.Itoa(r.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if r.cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(r.cfg.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, r.clientConfig())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	r.client = ssh.NewClient(c, chans, reqs)
	return r.client, nil
}

func (r *sshRunner) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
}

// Run executes cmd in a new session. A session that cannot be opened
// marks the connection dead so the next call redials.
func (r *sshRunner) Run(ctx context.Context, cmd string) (string, error) {
	client, err := r.connect(ctx)
	if err != nil {
		return "", err
	}
	session, err := client.NewSession()
	if err != nil {
		r.reset()
		return "", fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.Output(cmd)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		return string(res.out), res.err
	case <-ctx.Done():
		session.Close()
		return "", ctx.Err()
	}
}

func (r *sshRunner) Close() error {
	r.reset()
	return nil
}
