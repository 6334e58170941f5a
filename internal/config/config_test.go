package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/netsentinel/ids/internal/config"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

const validYAML = `
interface: eth0
window_seconds: 15
icmp_threshold_per_window: 25
ssh_threshold: 8
ssh_whitelist_ips: ["127.0.0.1"]
arp_mac_change_threshold: 4
portscan_threshold: 12
logging:
  alerts_log: "/var/log/sentinel/alerts.log"
  level: debug
`

func TestLoadConfig_Valid(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Interface != "eth0" {
		t.Errorf("Interface = %q, want eth0", cfg.Interface)
	}
	if cfg.WindowSeconds != 15 {
		t.Errorf("WindowSeconds = %v, want 15", cfg.WindowSeconds)
	}
	if cfg.ICMPThresholdPerWindow != 25 {
		t.Errorf("ICMPThresholdPerWindow = %v, want 25", cfg.ICMPThresholdPerWindow)
	}
	if len(cfg.SSHWhitelistIPs) != 1 || cfg.SSHWhitelistIPs[0] != "127.0.0.1" {
		t.Errorf("SSHWhitelistIPs = %v", cfg.SSHWhitelistIPs)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Logging.AlertsLog != "/var/log/sentinel/alerts.log" {
		t.Errorf("Logging.AlertsLog = %q", cfg.Logging.AlertsLog)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeTemp(t, "interface: eth0\n")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WindowSeconds != 10 {
		t.Errorf("default WindowSeconds = %v, want 10", cfg.WindowSeconds)
	}
	if cfg.ICMPThresholdPerWindow != 20 {
		t.Errorf("default ICMPThresholdPerWindow = %v, want 20", cfg.ICMPThresholdPerWindow)
	}
	if cfg.SSHThreshold != 10 {
		t.Errorf("default SSHThreshold = %v, want 10", cfg.SSHThreshold)
	}
	if cfg.ARPMACChangeThreshold != 5 {
		t.Errorf("default ARPMACChangeThreshold = %v, want 5", cfg.ARPMACChangeThreshold)
	}
	if cfg.PortscanThreshold != 10 {
		t.Errorf("default PortscanThreshold = %v, want 10", cfg.PortscanThreshold)
	}
	if cfg.PortscanFastWindowSeconds != 60 {
		t.Errorf("default PortscanFastWindowSeconds = %v, want 60", cfg.PortscanFastWindowSeconds)
	}
	if cfg.PortscanMaxSynToSynAck != 3.0 {
		t.Errorf("default PortscanMaxSynToSynAck = %v, want 3.0", cfg.PortscanMaxSynToSynAck)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadConfig_MissingInterface(t *testing.T) {
	path := writeTemp(t, "window_seconds: 10\n")
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for missing interface, got nil")
	}
	if !strings.Contains(err.Error(), "interface") {
		t.Errorf("error %q does not mention interface", err.Error())
	}
}

func TestLoadConfig_InvalidLogLevel(t *testing.T) {
	path := writeTemp(t, "interface: eth0\nlogging:\n  level: verbose\n")
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid logging.level, got nil")
	}
	if !strings.Contains(err.Error(), "logging.level") {
		t.Errorf("error %q does not mention logging.level", err.Error())
	}
}

func TestLoadConfig_InvalidSSHWhitelistIP(t *testing.T) {
	path := writeTemp(t, "interface: eth0\nssh_whitelist_ips: [\"not-an-ip\"]\n")
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid ssh_whitelist_ips entry, got nil")
	}
	if !strings.Contains(err.Error(), "ssh_whitelist_ips") {
		t.Errorf("error %q does not mention ssh_whitelist_ips", err.Error())
	}
}

func TestLoadConfig_InvalidPortscanWhitelistCIDR(t *testing.T) {
	path := writeTemp(t, "interface: eth0\nportscan_whitelist_cidrs: [\"not-a-cidr\"]\n")
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid portscan_whitelist_cidrs entry, got nil")
	}
	if !strings.Contains(err.Error(), "portscan_whitelist_cidrs") {
		t.Errorf("error %q does not mention portscan_whitelist_cidrs", err.Error())
	}
}

func TestLoadConfig_AcceptsBareIPInPortscanWhitelist(t *testing.T) {
	path := writeTemp(t, "interface: eth0\nportscan_whitelist_cidrs: [\"10.0.0.5\"]\n")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.PortscanWhitelistCIDRs) != 1 {
		t.Fatalf("PortscanWhitelistCIDRs = %v", cfg.PortscanWhitelistCIDRs)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	missingPath := filepath.Join(t.TempDir(), "nonexistent.yaml")
	_, err := config.LoadConfig(missingPath)
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeTemp(t, ":::invalid yaml:::")
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestConfig_InitialThresholds(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := cfg.InitialThresholds()
	want := map[string]int{"ssh": 8, "icmp": 25, "arp": 4, "portscan": 12}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("InitialThresholds()[%q] = %d, want %d", k, got[k], v)
		}
	}
}
