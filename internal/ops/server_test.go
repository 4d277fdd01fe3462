package ops

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	logx "briefbot/pkg/logx"
)

type fakeController struct {
	mu       sync.Mutex
	enabled  bool
	ran      int
	onceIn   time.Duration
	onceSet  bool
	runError error
}

func (c *fakeController) EnableTrigger() {
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()
}

func (c *fakeController) DisableTrigger() {
	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()
}

func (c *fakeController) ForceDigest(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ran++
	return c.runError
}

func (c *fakeController) ForceDigestAfter(d time.Duration) {
	c.mu.Lock()
	c.onceIn = d
	c.onceSet = true
	c.mu.Unlock()
}

func (c *fakeController) Status() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{"enabled": c.enabled}
}

func startTestServer(t *testing.T, cfg Config) (*Server, *fakeController, string) {
	t.Helper()
	cfg.Enabled = true
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	ctl := &fakeController{}
	s := New(cfg, ctl, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s, ctl, "http://" + s.Addr()
}

func do(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	_, _, base := startTestServer(t, Config{})
	resp := do(t, http.MethodGet, base+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("healthz body = %q", body)
	}
}

func TestStatusJSON(t *testing.T) {
	_, ctl, base := startTestServer(t, Config{})
	ctl.EnableTrigger()

	resp := do(t, http.MethodGet, base+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["enabled"] != true {
		t.Fatalf("status body = %v", got)
	}
}

func TestTriggerEndpoints(t *testing.T) {
	_, ctl, base := startTestServer(t, Config{})

	if resp := do(t, http.MethodPost, base+"/trigger/enable"); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("enable = %d", resp.StatusCode)
	}
	if !ctl.enabled {
		t.Fatal("enable endpoint did not reach the controller")
	}
	if resp := do(t, http.MethodPost, base+"/trigger/disable"); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("disable = %d", resp.StatusCode)
	}
	if ctl.enabled {
		t.Fatal("disable endpoint did not reach the controller")
	}
}

func TestDigestRunAndOnce(t *testing.T) {
	_, ctl, base := startTestServer(t, Config{})

	if resp := do(t, http.MethodPost, base+"/digest/run"); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("run = %d", resp.StatusCode)
	}
	if ctl.ran != 1 {
		t.Fatalf("ForceDigest calls = %d", ctl.ran)
	}

	if resp := do(t, http.MethodPost, base+"/digest/once?delay=30s"); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("once = %d", resp.StatusCode)
	}
	if !ctl.onceSet || ctl.onceIn != 30*time.Second {
		t.Fatalf("one-shot delay = %v (set=%v)", ctl.onceIn, ctl.onceSet)
	}

	if resp := do(t, http.MethodPost, base+"/digest/once?delay=later"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad delay = %d, want 400", resp.StatusCode)
	}
}

func TestTokenAuth(t *testing.T) {
	_, _, base := startTestServer(t, Config{Token: "sekrit"})

	if resp := do(t, http.MethodGet, base+"/status"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, base+"/status?token=sekrit"); resp.StatusCode != http.StatusOK {
		t.Fatalf("query token = %d, want 200", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, base+"/status", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer token = %d, want 200", resp.StatusCode)
	}

	// Health stays open for probes.
	if resp := do(t, http.MethodGet, base+"/healthz"); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz with token set = %d", resp.StatusCode)
	}
}

func TestRefusesNonLoopbackWithoutToken(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, &fakeController{}, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		_ = s.Stop(context.Background())
		t.Fatal("non-loopback bind without token must be refused")
	}
}

func TestReconfigureStopsWhenDisabled(t *testing.T) {
	s, _, base := startTestServer(t, Config{})
	s.Reconfigure(context.Background(), Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatal("server still bound after disable")
	}
	if _, err := http.Get(base + "/healthz"); err == nil {
		t.Fatal("server still serving after disable")
	}
}
