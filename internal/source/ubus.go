package source

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/HerbHall/apwatch/pkg/models"
	"go.uber.org/zap"
)

// anonymousSession is the ubus session ID accepted by "session login".
const anonymousSession = "00000000000000000000000000000000"

// Status codes that mean the session expired or lacks the ACL.
const (
	rpcAccessDenied      = -32002
	ubusPermissionDenied = 6
)

// maxResponseBytes caps a single JSON-RPC response body.
const maxResponseBytes = 8 << 20

var errAccessDenied = errors.New("ubus access denied")

// UbusAdapter polls an OpenWrt device through the ubus JSON-RPC endpoint.
type UbusAdapter struct {
	cfg      Config
	logger   *zap.Logger
	endpoint string
	client   *http.Client
	nextID   atomic.Int64

	mu      sync.Mutex
	session string
}

// NewUbus returns an adapter for cfg. The session is established on the
// first poll and renewed whenever the device rejects it.
func NewUbus(cfg Config, logger *zap.Logger) *UbusAdapter {
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	endpoint := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/ubus",
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: !cfg.VerifySSL, //nolint:gosec // G402: routers commonly serve self-signed certificates
	}
	return &UbusAdapter{
		cfg:      cfg,
		logger:   logger,
		endpoint: endpoint.String(),
		client:   &http.Client{Transport: transport, Timeout: cfg.Timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

// call performs one ubus call and decodes the data element of the
// [status, data] result into out.
func (a *UbusAdapter) call(ctx context.Context, session, object, method string, args, out any) error {
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      a.nextID.Add(1),
		Method:  "call",
		Params:  []any{session, object, method, args},
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", object, method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s.%s: unexpected HTTP status %d", object, method, resp.StatusCode)
	}

	var rr rpcResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&rr); err != nil {
		return fmt.Errorf("%s.%s: decode response: %w", object, method, err)
	}
	if rr.Error != nil {
		if rr.Error.Code == rpcAccessDenied {
			return fmt.Errorf("%s.%s: %w", object, method, errAccessDenied)
		}
		return fmt.Errorf("%s.%s: %w", object, method, rr.Error)
	}

	var result []json.RawMessage
	if err := json.Unmarshal(rr.Result, &result); err != nil || len(result) == 0 {
		return fmt.Errorf("%s.%s: malformed result", object, method)
	}
	var status int
	if err := json.Unmarshal(result[0], &status); err != nil {
		return fmt.Errorf("%s.%s: malformed status: %w", object, method, err)
	}
	switch status {
	case 0:
	case ubusPermissionDenied:
		return fmt.Errorf("%s.%s: %w", object, method, errAccessDenied)
	default:
		return fmt.Errorf("%s.%s: ubus status %d", object, method, status)
	}
	if out != nil && len(result) > 1 {
		if err := json.Unmarshal(result[1], out); err != nil {
			return fmt.Errorf("%s.%s: decode data: %w", object, method, err)
		}
	}
	return nil
}

func (a *UbusAdapter) login(ctx context.Context) (string, error) {
	var res struct {
		Session string `json:"ubus_rpc_session"`
	}
	err := a.call(ctx, anonymousSession, "session", "login", map[string]any{
		"username": a.cfg.Username,
		"password": a.cfg.Password,
	}, &res)
	if err != nil {
		return "", fmt.Errorf("login as %q: %w", a.cfg.Username, err)
	}
	if res.Session == "" {
		return "", fmt.Errorf("login as %q: no session returned", a.cfg.Username)
	}
	return res.Session, nil
}

func (a *UbusAdapter) sessionID(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != "" {
		return a.session, nil
	}
	s, err := a.login(ctx)
	if err != nil {
		return "", err
	}
	a.session = s
	return s, nil
}

func (a *UbusAdapter) dropSession(stale string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == stale {
		a.session = ""
	}
}

// invoke calls object.method with the current session, logging in again
// once if the device reports the session as denied.
func (a *UbusAdapter) invoke(ctx context.Context, object, method string, args, out any) error {
	session, err := a.sessionID(ctx)
	if err != nil {
		return err
	}
	err = a.call(ctx, session, object, method, args, out)
	if !errors.Is(err, errAccessDenied) {
		return err
	}

	a.logger.Debug("ubus session rejected, logging in again", zap.String("call", object+"."+method))
	a.dropSession(session)
	if session, err = a.sessionID(ctx); err != nil {
		return err
	}
	return a.call(ctx, session, object, method, args, out)
}

type assocEntry struct {
	MAC    string `json:"mac"`
	Signal *int   `json:"signal"`
	RX     struct {
		Bytes *uint64 `json:"bytes"`
	} `json:"rx"`
	TX struct {
		Bytes *uint64 `json:"bytes"`
	} `json:"tx"`
}

func (e assocEntry) record(device string) models.RawRecord {
	rec := models.RawRecord{models.FieldMAC: e.MAC, models.FieldInterface: device}
	if e.Signal != nil {
		rec[models.FieldSignal] = strconv.Itoa(*e.Signal)
	}
	if e.RX.Bytes != nil {
		rec[models.FieldRxBytes] = strconv.FormatUint(*e.RX.Bytes, 10)
	}
	if e.TX.Bytes != nil {
		rec[models.FieldTxBytes] = strconv.FormatUint(*e.TX.Bytes, 10)
	}
	return rec
}

// Poll lists the wireless devices and collects each one's associated
// stations. A radio that fails is skipped unless every radio fails.
func (a *UbusAdapter) Poll(ctx context.Context) ([]models.RawRecord, error) {
	var devs struct {
		Devices []string `json:"devices"`
	}
	if err := a.invoke(ctx, "iwinfo", "devices", nil, &devs); err != nil {
		return nil, unavailable(a.cfg.ID, err)
	}

	recs := []models.RawRecord{}
	var lastErr error
	ok := 0
	for _, dev := range devs.Devices {
		var al struct {
			Results []assocEntry `json:"results"`
		}
		if err := a.invoke(ctx, "iwinfo", "assoclist", map[string]any{"device": dev}, &al); err != nil {
			if ctx.Err() != nil {
				return nil, unavailable(a.cfg.ID, ctx.Err())
			}
			a.logger.Debug("assoclist failed", zap.String("device", dev), zap.Error(err))
			lastErr = err
			continue
		}
		ok++
		for _, e := range al.Results {
			recs = append(recs, e.record(dev))
		}
	}
	if ok == 0 && lastErr != nil {
		return nil, unavailable(a.cfg.ID, lastErr)
	}

	if a.cfg.enrich() && len(recs) > 0 {
		leases, err := a.dhcpLeases(ctx)
		if err != nil {
			a.logger.Debug("dhcp lease lookup failed", zap.Error(err))
		}
		enrich(recs, leases)
	}
	return recs, nil
}

func (a *UbusAdapter) dhcpLeases(ctx context.Context) ([]lease, error) {
	var res struct {
		Leases []struct {
			Hostname string `json:"hostname"`
			IP       string `json:"ipaddr"`
			MAC      string `json:"macaddr"`
		} `json:"dhcp_leases"`
		Leases6 []struct {
			Hostname string `json:"hostname"`
			IP6      string `json:"ip6addr"`
			MAC      string `json:"macaddr"`
			DUID     string `json:"duid"`
		} `json:"dhcp6_leases"`
	}
	if err := a.invoke(ctx, "luci-rpc", "getDHCPLeases", nil, &res); err != nil {
		return nil, err
	}
	out := make([]lease, 0, len(res.Leases)+len(res.Leases6))
	for _, l := range res.Leases {
		if l.MAC == "" {
			continue
		}
		out = append(out, lease{mac: macKey(l.MAC), ip: l.IP, hostname: l.Hostname, source: leaseDynamic})
	}
	for _, l := range res.Leases6 {
		mac := macKey(l.MAC)
		if mac == "" {
			mac, _ = duidMAC(l.DUID)
		}
		if mac == "" {
			continue
		}
		out = append(out, lease{mac: mac, ipv6: leaseIPv6(l.IP6), hostname: l.Hostname, source: leaseDynamic})
	}
	return out, nil
}

// Close forgets the session and releases idle connections.
func (a *UbusAdapter) Close() error {
	a.mu.Lock()
	a.session = ""
	a.mu.Unlock()
	a.client.CloseIdleConnections()
	return nil
}
