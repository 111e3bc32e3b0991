// ABOUTME: Entry point for the unity-hub control server
// ABOUTME: Bridges Unity editor instances to tool-calling clients over HTTP

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/whatevertogo/unity-mcp-sub001/internal/config"
	"github.com/whatevertogo/unity-mcp-sub001/internal/gateway"
)

// version is overridden at build time via -ldflags.
var version = "dev"

const banner = `
             _ _               _           _
 _   _ _ __ (_) |_ _   _      | |__  _   _| |__
| | | | '_ \| | __| | | |_____| '_ \| | | | '_ \
| |_| | | | | | |_| |_| |_____| | | | |_| | |_) |
 \__,_|_| |_|_|\__|\__, |     |_| |_|\__,_|_.__/
                   |___/
`

// getConfigPath returns the path to the hub config file.
// Priority: UNITY_HUB_CONFIG env var > XDG_CONFIG_HOME/unity-hub/hub.yaml >
// ~/.config/unity-hub/hub.yaml
func getConfigPath() string {
	if envPath := os.Getenv("UNITY_HUB_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "hub.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "unity-hub", "hub.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: unity-hub <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve       Start the hub server")
		fmt.Println("  init        Write a starter config file")
		fmt.Println("  health      Check hub health")
		fmt.Println("  instances   List connected Unity instances")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "instances":
		err = runInstances(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Bridge:  %s\n", cfg.Server.BridgeAddr)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:    %s\n", cfg.Server.HTTPAddr)
	fmt.Println()

	logger.Info("starting unity-hub",
		"config", configPath,
		"bridge_addr", cfg.Server.BridgeAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger, gateway.Options{
		UserResolver: apiKeyUserResolver,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// loadConfigOrDefault falls back to defaults when no config file exists so
// `unity-hub serve` works out of the box.
func loadConfigOrDefault(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// apiKeyUserResolver attributes API requests to the caller named in the
// X-Caller-Id header, when present.
func apiKeyUserResolver(r *http.Request) (string, bool) {
	id := r.Header.Get("X-Caller-Id")
	return id, id != ""
}

func runInit() error {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	content := `# unity-hub configuration
# Generated by unity-hub init

server:
  bridge_addr: "localhost:6400"
  http_addr: "localhost:8080"
  api_key: ""

bridge:
  handshake_timeout: "10s"
  framed_receive_timeout: "30s"
  heartbeat_timeout: "5s"
  keep_alive_interval: "15s"
  max_heartbeat_frames: 3
  connection_timeout: "90s"
  buffer_size: 4194304

hub:
  reload_retry_ms: "750ms"
  reload_max_retries: 5
  default_timeout: "30s"

telemetry:
  enabled: true
  queue: 256
  cache_ttl: "1m"

database:
  path: "unity-hub.db"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println("\nTo start the server:")
	fmt.Println("  unity-hub serve")
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := loadConfigOrDefault(getConfigPath())
	if err != nil {
		return err
	}

	body, status, err := apiGet(ctx, cfg, "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}
	fmt.Println(string(body))
	return nil
}

func runInstances(ctx context.Context) error {
	cfg, err := loadConfigOrDefault(getConfigPath())
	if err != nil {
		return err
	}

	body, status, err := apiGet(ctx, cfg, "/api/instances")
	if err != nil {
		return fmt.Errorf("listing instances failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("listing instances: status %d: %s", status, string(body))
	}

	var resp struct {
		Instances []struct {
			Reference    string    `json:"reference"`
			UnityVersion string    `json:"unity_version"`
			Connected    bool      `json:"connected"`
			ConnectedAt  time.Time `json:"connected_at"`
		} `json:"instances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if len(resp.Instances) == 0 {
		fmt.Println("no Unity instances registered")
		return nil
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	for _, inst := range resp.Instances {
		if inst.Connected {
			green.Print("  ● ")
		} else {
			red.Print("  ○ ")
		}
		fmt.Printf("%-40s unity %-12s since %s\n",
			inst.Reference, inst.UnityVersion, inst.ConnectedAt.Format(time.RFC3339))
	}
	return nil
}

func apiGet(ctx context.Context, cfg *config.Config, path string) ([]byte, int, error) {
	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	if cfg.Server.APIKey != "" {
		req.Header.Set("X-API-Key", cfg.Server.APIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}
