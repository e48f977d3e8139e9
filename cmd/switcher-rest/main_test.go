package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	defer ln.Close() //nolint:errcheck // Test cleanup
	return ln.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

const simulatedDevices = `
  devices:
    - id: "AA:BB:CC"
      name: Boiler
      state: "on"
      temperature: 54.5
    - id: ddeeff
      unreachable: true
`

// startRun runs the service in the background and waits until it answers
// /health. The returned function stops it and returns run's error.
func startRun(t *testing.T, opts serveOptions, port int) func() error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, opts) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	deadline := time.Now().Add(10 * time.Second)
	for {
		select {
		case err := <-errCh:
			cancel()
			t.Fatalf("run() exited early: %v", err)
		default:
		}

		resp, err := http.Get(url) //nolint:noctx // test polling
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("service did not become healthy on port %d", port)
		}
		time.Sleep(50 * time.Millisecond)
	}

	return func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(15 * time.Second):
			t.Fatal("run() did not return after cancel")
			return nil
		}
	}
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url) //nolint:noctx // test request
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding %s: %v", url, err)
	}
	return resp.StatusCode, body
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, serveOptions{configPath: "/nonexistent/path/config.yaml"})
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want a config loading error", err)
	}
}

// TestRun_InvalidAdapter verifies validation errors stop startup.
func TestRun_InvalidAdapter(t *testing.T) {
	path := writeConfig(t, `
switcher:
  adapter: zigbee
`)

	err := run(context.Background(), serveOptions{configPath: path})
	if err == nil || !strings.Contains(err.Error(), "switcher.adapter") {
		t.Fatalf("run() error = %v, want adapter validation error", err)
	}
}

// TestRun_PortOverrideValidated verifies --port is validated like the file.
func TestRun_PortOverrideValidated(t *testing.T) {
	err := run(context.Background(), serveOptions{port: 70000})
	if err == nil || !strings.Contains(err.Error(), "api.port") {
		t.Fatalf("run() error = %v, want port validation error", err)
	}
}

// TestRun_MQTTUnavailable verifies the service starts without a broker and
// reports the outage per request.
func TestRun_MQTTUnavailable(t *testing.T) {
	port := freePort(t)
	path := writeConfig(t, fmt.Sprintf(`
api:
  host: "127.0.0.1"
  port: %d
mqtt:
  broker:
    host: "127.0.0.1"
    port: %d
  reconnect:
    initial_delay: 1
    max_delay: 1
database:
  enabled: false
logging:
  level: error
`, port, freePort(t)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, serveOptions{configPath: path}) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	deadline := time.Now().Add(15 * time.Second)
	for {
		select {
		case err := <-errCh:
			cancel()
			t.Fatalf("run() exited without a broker: %v", err)
		default:
		}
		resp, err := http.Get(base + "/health") //nolint:noctx // test polling
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("service did not start without a broker")
		}
		time.Sleep(50 * time.Millisecond)
	}

	code, body := getJSON(t, base+"/health")
	if code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Errorf("health = %d %v, want 503 degraded", code, body)
	}

	code, body = getJSON(t, base+"/devices/aabbcc/status")
	if code != http.StatusBadGateway || body["error"] != "bridge_unavailable" {
		t.Errorf("status = %d %v, want 502 bridge_unavailable", code, body)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

// TestRun_Simulated starts the service on simulated devices with the journal
// enabled and exercises one request end to end.
func TestRun_Simulated(t *testing.T) {
	port := freePort(t)
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	path := writeConfig(t, fmt.Sprintf(`
api:
  host: "127.0.0.1"
  port: %d
database:
  enabled: true
  path: %q
logging:
  level: error
switcher:
  adapter: simulated
%s`, port, dbPath, simulatedDevices))

	stop := startRun(t, serveOptions{configPath: path}, port)

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	status, body := getJSON(t, base+"/devices/AA:BB:CC/status")
	if status != http.StatusOK || body["state"] != "on" {
		t.Errorf("status = %d %v, want 200 state on", status, body)
	}

	status, body = getJSON(t, base+"/devices/ddeeff/status")
	if status != http.StatusGatewayTimeout || body["error"] != "device_unreachable" {
		t.Errorf("unreachable = %d %v", status, body)
	}

	status, body = getJSON(t, base+"/health")
	checks, _ := body["checks"].(map[string]any)
	if status != http.StatusOK || checks["database"] != "ok" {
		t.Errorf("health = %d %v", status, body)
	}

	if err := stop(); err != nil {
		t.Errorf("run() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("journal database not created: %v", err)
	}
}

// TestRun_EmbeddedBrokerBridge runs the bridge adapter against the embedded
// broker with the in-process responder answering from simulated devices.
func TestRun_EmbeddedBrokerBridge(t *testing.T) {
	apiPort := freePort(t)
	mqttPort := freePort(t)
	path := writeConfig(t, fmt.Sprintf(`
api:
  host: "127.0.0.1"
  port: %d
mqtt:
  broker:
    host: "127.0.0.1"
    port: %d
    client_id: switcher-rest-test
  embedded_broker:
    enabled: true
    address: "127.0.0.1:%d"
database:
  enabled: false
logging:
  level: error
switcher:
  adapter: bridge
  request_timeout: 5
%s`, apiPort, mqttPort, mqttPort, simulatedDevices))

	stop := startRun(t, serveOptions{configPath: path, simulateBridge: true}, apiPort)

	base := fmt.Sprintf("http://127.0.0.1:%d", apiPort)
	status, body := getJSON(t, base+"/devices/aabbcc/status")
	if status != http.StatusOK || body["state"] != "on" {
		t.Errorf("status = %d %v, want 200 state on", status, body)
	}

	status, body = getJSON(t, base+"/devices/state")
	if status != http.StatusOK || body["device_id"] != "aabbcc" {
		t.Errorf("discovery = %d %v", status, body)
	}

	if err := stop(); err != nil {
		t.Errorf("run() error = %v", err)
	}
}

// TestVersionCommand verifies the version subcommand output.
func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "switcher-rest "+version) {
		t.Errorf("output = %q", out.String())
	}
}

// TestTokenCommand verifies issued tokens and the missing secret error.
func TestTokenCommand(t *testing.T) {
	t.Run("with secret", func(t *testing.T) {
		t.Setenv("SWITCHER_JWT_SECRET", strings.Repeat("s", 40))

		var out, errOut bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetErr(&errOut)
		cmd.SetArgs([]string{"token", "--config", "", "--subject", "home-assistant"})

		if err := cmd.Execute(); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if parts := strings.Split(strings.TrimSpace(out.String()), "."); len(parts) != 3 {
			t.Errorf("token = %q, want a JWT", out.String())
		}
		if !strings.Contains(errOut.String(), `"home-assistant"`) {
			t.Errorf("stderr = %q", errOut.String())
		}
	})

	t.Run("without secret", func(t *testing.T) {
		t.Setenv("SWITCHER_JWT_SECRET", "")

		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs([]string{"token", "--config", ""})
		if err := cmd.Execute(); err == nil {
			t.Error("Execute() should fail without a signing secret")
		}
	})
}

func TestMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	path := writeConfig(t, fmt.Sprintf(`
database:
  enabled: true
  path: %q
`, dbPath))

	migrate := func(sub string) string {
		t.Helper()
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"migrate", sub, "--config", path})
		if err := cmd.Execute(); err != nil {
			t.Fatalf("migrate %s error = %v", sub, err)
		}
		return out.String()
	}

	if out := migrate("status"); !strings.Contains(out, "pending  20260301_090000  create_command_log") {
		t.Errorf("status before up = %q", out)
	}
	if out := migrate("up"); !strings.HasPrefix(out, "applied  20260301_090000") {
		t.Errorf("up = %q", out)
	}
	if out := migrate("down"); !strings.Contains(out, "pending  20260301_090000") || strings.Contains(out, "applied") {
		t.Errorf("down = %q", out)
	}
}
