package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/HerbHall/apwatch/pkg/plugin"
	"go.uber.org/zap"
)

// testPlugin is a minimal plugin for testing.
type testPlugin struct {
	info      plugin.PluginInfo
	initErr   error
	stopOrder *[]string
}

func newTestPlugin(name string, deps ...string) *testPlugin {
	return &testPlugin{
		info: plugin.PluginInfo{
			Name:         name,
			Version:      "1.0.0",
			Dependencies: deps,
			APIVersion:   plugin.APIVersionCurrent,
		},
	}
}

func (p *testPlugin) Info() plugin.PluginInfo                             { return p.info }
func (p *testPlugin) Init(_ context.Context, _ plugin.Dependencies) error { return p.initErr }
func (p *testPlugin) Start(_ context.Context) error                       { return nil }
func (p *testPlugin) Stop(_ context.Context) error {
	if p.stopOrder != nil {
		*p.stopOrder = append(*p.stopOrder, p.info.Name)
	}
	return nil
}

// subscriberPlugin implements EventSubscriber and HealthChecker.
type subscriberPlugin struct {
	testPlugin
	topics []string
}

func (p *subscriberPlugin) Subscriptions() []plugin.Subscription {
	subs := make([]plugin.Subscription, 0, len(p.topics))
	for _, topic := range p.topics {
		subs = append(subs, plugin.Subscription{Topic: topic, Handler: func(context.Context, plugin.Event) {}})
	}
	return subs
}

func (p *subscriberPlugin) Health(context.Context) plugin.HealthStatus {
	return plugin.HealthStatus{Status: "healthy"}
}

// testBus records Subscribe calls for verification.
type testBus struct {
	topics  []string
	unsubed int
}

func (b *testBus) Publish(_ context.Context, _ plugin.Event) error { return nil }
func (b *testBus) Subscribe(topic string, _ plugin.EventHandler) (unsubscribe func()) {
	b.topics = append(b.topics, topic)
	return func() { b.unsubed++ }
}
func (b *testBus) PublishAsync(_ context.Context, _ plugin.Event) {}
func (b *testBus) SubscribeAll(_ plugin.EventHandler) (unsubscribe func()) {
	return func() {}
}

func noDeps(string) plugin.Dependencies { return plugin.Dependencies{Logger: zap.NewNop()} }

func TestValidate_TopologicalOrder(t *testing.T) {
	r := New(zap.NewNop())
	for _, p := range []*testPlugin{
		newTestPlugin("ws", "tracker"),
		newTestPlugin("mqtt", "tracker"),
		newTestPlugin("tracker"),
		newTestPlugin("influx", "tracker"),
	} {
		if err := r.Register(p); err != nil {
			t.Fatalf("Register(%s) error = %v", p.info.Name, err)
		}
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	want := []string{"tracker", "influx", "mqtt", "ws"}
	if len(r.order) != len(want) {
		t.Fatalf("order = %v, want %v", r.order, want)
	}
	for i := range want {
		if r.order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, r.order[i], want[i])
		}
	}
}

func TestRegister_Errors(t *testing.T) {
	r := New(zap.NewNop())
	if err := r.Register(newTestPlugin("")); err == nil {
		t.Error("expected error for empty name")
	}
	if err := r.Register(newTestPlugin("a")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(newTestPlugin("a")); err == nil {
		t.Error("expected error for duplicate name")
	}
}

func TestValidate_MissingDependency(t *testing.T) {
	tests := []struct {
		name     string
		required bool
		wantErr  bool
	}{
		{"optional plugin is disabled", false, false},
		{"required plugin fails", true, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := New(zap.NewNop())
			p := newTestPlugin("mqtt", "tracker")
			p.info.Required = tc.required
			_ = r.Register(p)

			err := r.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
			if !tc.wantErr && !r.IsDisabled("mqtt") {
				t.Error("mqtt should be disabled")
			}
		})
	}
}

func TestValidate_CascadeDisable(t *testing.T) {
	r := New(zap.NewNop())
	bad := newTestPlugin("a")
	bad.info.APIVersion = plugin.APIVersionCurrent + 1
	_ = r.Register(bad)
	_ = r.Register(newTestPlugin("b", "a"))
	_ = r.Register(newTestPlugin("c", "b"))

	if err := r.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	for _, name := range []string{"a", "b", "c"} {
		if !r.IsDisabled(name) {
			t.Errorf("%s should be disabled", name)
		}
	}
	if len(r.All()) != 0 {
		t.Errorf("All() = %d plugins, want 0", len(r.All()))
	}
}

func TestValidate_Cycle(t *testing.T) {
	r := New(zap.NewNop())
	_ = r.Register(newTestPlugin("a", "b"))
	_ = r.Register(newTestPlugin("b", "a"))
	if err := r.Validate(); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestInitAll_OptionalFailureDisables(t *testing.T) {
	r := New(zap.NewNop())
	failing := newTestPlugin("influx")
	failing.initErr = errors.New("no url")
	_ = r.Register(failing)
	_ = r.Register(newTestPlugin("tracker"))
	_ = r.Validate()

	if err := r.InitAll(context.Background(), noDeps); err != nil {
		t.Fatalf("InitAll() error = %v", err)
	}
	if _, ok := r.Get("influx"); ok {
		t.Error("influx should not be resolvable after failed init")
	}
	if _, ok := r.Get("tracker"); !ok {
		t.Error("tracker should remain active")
	}
}

func TestInitAll_RequiredFailure(t *testing.T) {
	r := New(zap.NewNop())
	p := newTestPlugin("tracker")
	p.info.Required = true
	p.initErr = errors.New("boom")
	_ = r.Register(p)
	_ = r.Validate()

	if err := r.InitAll(context.Background(), noDeps); err == nil {
		t.Fatal("expected error for required plugin init failure")
	}
}

func TestInitAll_WiresSubscriptions(t *testing.T) {
	bus := &testBus{}
	r := New(zap.NewNop())
	_ = r.Register(&subscriberPlugin{
		testPlugin: *newTestPlugin("mqtt"),
		topics:     []string{"tracker.mac.pending", "tracker.device.online"},
	})
	_ = r.Validate()

	err := r.InitAll(context.Background(), func(string) plugin.Dependencies {
		return plugin.Dependencies{Logger: zap.NewNop(), Bus: bus}
	})
	if err != nil {
		t.Fatalf("InitAll() error = %v", err)
	}
	if len(bus.topics) != 2 {
		t.Fatalf("subscriptions = %v, want 2", bus.topics)
	}

	r.StopAll(context.Background())
	if bus.unsubed != 2 {
		t.Errorf("unsubscribed = %d, want 2", bus.unsubed)
	}
}

func TestStopAll_ReverseOrder(t *testing.T) {
	var stopped []string
	r := New(zap.NewNop())
	for _, p := range []*testPlugin{newTestPlugin("tracker"), newTestPlugin("mqtt", "tracker")} {
		p.stopOrder = &stopped
		_ = r.Register(p)
	}
	_ = r.Validate()
	_ = r.InitAll(context.Background(), noDeps)
	_ = r.StartAll(context.Background())
	r.StopAll(context.Background())

	if len(stopped) != 2 || stopped[0] != "mqtt" || stopped[1] != "tracker" {
		t.Errorf("stop order = %v, want [mqtt tracker]", stopped)
	}
}

func TestHealthAndRoles(t *testing.T) {
	r := New(zap.NewNop())
	sp := &subscriberPlugin{testPlugin: *newTestPlugin("tracker")}
	sp.info.Roles = []string{"presence"}
	_ = r.Register(sp)
	_ = r.Register(newTestPlugin("ws"))
	_ = r.Validate()

	health := r.Health(context.Background())
	if len(health) != 1 || health["tracker"].Status != "healthy" {
		t.Errorf("Health() = %v", health)
	}
	if got := r.ResolveByRole("presence"); len(got) != 1 {
		t.Errorf("ResolveByRole(presence) = %d plugins, want 1", len(got))
	}
}
