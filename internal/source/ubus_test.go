package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/apwatch/pkg/models"
	"go.uber.org/zap"
)

// fakeUbus answers the subset of ubus calls the adapter makes.
type fakeUbus struct {
	mu         sync.Mutex
	logins     int
	valid      string
	expireNext bool
	failDevice string
	assoc      map[string]string
}

func (f *fakeUbus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     int64             `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Params) != 4 || req.Method != "call" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var session, object, method string
	_ = json.Unmarshal(req.Params[0], &session)
	_ = json.Unmarshal(req.Params[1], &object)
	_ = json.Unmarshal(req.Params[2], &method)

	reply := func(result string) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, result)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if object == "session" && method == "login" {
		var creds struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		_ = json.Unmarshal(req.Params[3], &creds)
		if creds.Username != "root" || creds.Password != "secret" {
			reply(`[6]`)
			return
		}
		f.logins++
		f.valid = fmt.Sprintf("session-%d", f.logins)
		reply(fmt.Sprintf(`[0,{"ubus_rpc_session":%q,"timeout":300}]`, f.valid))
		return
	}

	if session != f.valid || f.expireNext {
		f.expireNext = false
		f.valid = ""
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":-32002,"message":"Access denied"}}`, req.ID)
		return
	}

	switch object + "." + method {
	case "iwinfo.devices":
		reply(`[0,{"devices":["wlan0","wlan1"]}]`)
	case "iwinfo.assoclist":
		var args struct {
			Device string `json:"device"`
		}
		_ = json.Unmarshal(req.Params[3], &args)
		if args.Device == f.failDevice {
			reply(`[4]`)
			return
		}
		reply(fmt.Sprintf(`[0,{"results":[%s]}]`, f.assoc[args.Device]))
	case "luci-rpc.getDHCPLeases":
		reply(`[0,{"dhcp_leases":[{"hostname":"tv","ipaddr":"192.168.1.20","macaddr":"AA:BB:CC:DD:EE:01","expires":3600}],"dhcp6_leases":[{"hostname":"phone","ip6addr":"fd00::2","duid":"00030001aabbccddee02","expires":3600}]}]`)
	default:
		reply(`[3]`)
	}
}

func (f *fakeUbus) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func newFakeUbus() *fakeUbus {
	return &fakeUbus{assoc: map[string]string{
		"wlan0": `{"mac":"AA:BB:CC:DD:EE:01","signal":-42,"rx":{"bytes":1000},"tx":{"bytes":2000}}`,
		"wlan1": `{"mac":"AA:BB:CC:DD:EE:02","signal":-70}`,
	}}
}

func ubusConfig(t *testing.T, srv *httptest.Server, password string) Config {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)
	cfg := Config{
		ID:       "router",
		Type:     TypeUbus,
		Host:     host,
		Port:     port,
		Username: "root",
		Password: password,
		UseSSL:   u.Scheme == "https",
	}
	cfg.ApplyDefaults(time.Minute, 5*time.Second)
	return cfg
}

func TestUbus_Poll(t *testing.T) {
	fake := newFakeUbus()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	a := NewUbus(ubusConfig(t, srv, "secret"), zap.NewNop())
	defer a.Close()

	recs, err := a.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2: %v", len(recs), recs)
	}
	want := models.RawRecord{
		models.FieldMAC:       "AA:BB:CC:DD:EE:01",
		models.FieldInterface: "wlan0",
		models.FieldSignal:    "-42",
		models.FieldRxBytes:   "1000",
		models.FieldTxBytes:   "2000",
		models.FieldHostname:  "tv",
		models.FieldIP:        "192.168.1.20",
	}
	for k, v := range want {
		if recs[0][k] != v {
			t.Errorf("record 0 %s = %q, want %q", k, recs[0][k], v)
		}
	}
	if _, ok := recs[1][models.FieldRxBytes]; ok {
		t.Error("missing counters should stay unset")
	}
	if recs[1][models.FieldIPv6] != "fd00::2" || recs[1][models.FieldHostname] != "phone" {
		t.Errorf("record 1 not enriched from DHCPv6 lease: %v", recs[1])
	}

	if _, err := a.Poll(context.Background()); err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if n := fake.loginCount(); n != 1 {
		t.Errorf("logins = %d, want the session reused", n)
	}
}

func TestUbus_ReloginOnAccessDenied(t *testing.T) {
	fake := newFakeUbus()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	a := NewUbus(ubusConfig(t, srv, "secret"), zap.NewNop())
	if _, err := a.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	fake.mu.Lock()
	fake.expireNext = true
	fake.mu.Unlock()

	recs, err := a.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll after expiry: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("got %d records after relogin", len(recs))
	}
	if n := fake.loginCount(); n != 2 {
		t.Errorf("logins = %d, want 2", n)
	}
}

func TestUbus_BadCredentials(t *testing.T) {
	srv := httptest.NewServer(newFakeUbus())
	defer srv.Close()

	a := NewUbus(ubusConfig(t, srv, "wrong"), zap.NewNop())
	_, err := a.Poll(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestUbus_Unreachable(t *testing.T) {
	srv := httptest.NewServer(newFakeUbus())
	cfg := ubusConfig(t, srv, "secret")
	srv.Close()

	_, err := NewUbus(cfg, zap.NewNop()).Poll(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestUbus_OneRadioFails(t *testing.T) {
	fake := newFakeUbus()
	fake.failDevice = "wlan1"
	srv := httptest.NewServer(fake)
	defer srv.Close()

	recs, err := NewUbus(ubusConfig(t, srv, "secret"), zap.NewNop()).Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(recs) != 1 || recs[0][models.FieldInterface] != "wlan0" {
		t.Errorf("recs = %v", recs)
	}
}

func TestUbus_TLSVerification(t *testing.T) {
	srv := httptest.NewTLSServer(newFakeUbus())
	defer srv.Close()

	tests := []struct {
		name    string
		verify  bool
		wantErr bool
	}{
		{name: "skip verify accepts self-signed", verify: false, wantErr: false},
		{name: "verify rejects self-signed", verify: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ubusConfig(t, srv, "secret")
			cfg.VerifySSL = tt.verify
			_, err := NewUbus(cfg, zap.NewNop()).Poll(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_Dispatch(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{name: "ssh", cfg: Config{ID: "ap", Type: TypeSSH, Host: "h"}, want: "*source.SSHAdapter"},
		{name: "ubus", cfg: Config{ID: "r", Type: TypeUbus, Host: "h"}, want: "*source.UbusAdapter"},
		{name: "unknown type", cfg: Config{ID: "x", Type: "snmp", Host: "h"}, wantErr: true},
		{name: "missing host", cfg: Config{ID: "x", Type: TypeSSH}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.ApplyDefaults(time.Minute, time.Second)
			a, err := New(tt.cfg, zap.NewNop())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := fmt.Sprintf("%T", a); got != tt.want {
				t.Errorf("adapter = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	c := Config{ID: "ap1", Type: TypeSSH, Host: "h"}
	c.ApplyDefaults(time.Minute, 10*time.Second)
	if c.Scope != "ap1" || c.Port != 22 || c.Username != "root" {
		t.Errorf("defaults = %+v", c)
	}
	if len(c.Commands) != len(DefaultCommands) || !c.enrich() {
		t.Errorf("commands = %v enrich = %v", c.Commands, c.enrich())
	}

	u := Config{ID: "r", Type: TypeUbus, Host: "h", UseSSL: true, Scope: "home"}
	u.ApplyDefaults(time.Minute, 10*time.Second)
	if u.Port != 443 || u.Scope != "home" || len(u.Commands) != 0 {
		t.Errorf("ubus defaults = %+v", u)
	}
}
