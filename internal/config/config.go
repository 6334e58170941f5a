// Package config provides YAML configuration loading and validation for
// the sentinel IDS, plus the two runtime-mutable process-wide stores
// (thresholds and the alert-email recipient) the REST API writes to.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for the IDS process.
type Config struct {
	// Interface is the network interface the packet source should capture
	// on (e.g. "eth0"). Required.
	Interface string `yaml:"interface"`

	// WindowSeconds is the default sliding-window length, in seconds, used
	// by the ICMP and ARP detectors. Defaults to 10 when omitted.
	WindowSeconds float64 `yaml:"window_seconds"`

	// ICMPThresholdPerWindow seeds the ThresholdStore's "icmp" entry at
	// startup. Defaults to 20 when omitted.
	ICMPThresholdPerWindow int `yaml:"icmp_threshold_per_window"`

	// SSHThreshold seeds the ThresholdStore's "ssh" entry. Defaults to 10.
	SSHThreshold int `yaml:"ssh_threshold"`

	// SSHWhitelistIPs lists source IPs the SSH detector ignores outright.
	SSHWhitelistIPs []string `yaml:"ssh_whitelist_ips"`

	// ARPMACChangeThreshold seeds the ThresholdStore's "arp" entry.
	// Defaults to 5.
	ARPMACChangeThreshold int `yaml:"arp_mac_change_threshold"`

	// PortscanThreshold seeds the ThresholdStore's "portscan" entry.
	// Not used directly by the port-scan detector (its rules each carry
	// their own thresholds below) but kept for wire-stability with the
	// four named ThresholdMap entries. Defaults to 10.
	PortscanThreshold int `yaml:"portscan_threshold"`

	PortscanFastWindowSeconds  float64  `yaml:"portscan_fast_window_seconds"`
	PortscanSlowWindowSeconds  float64  `yaml:"portscan_slow_window_seconds"`
	PortscanSlowDecay          float64  `yaml:"portscan_slow_decay"`
	PortscanMinUniquePortsFast int      `yaml:"portscan_min_unique_ports_fast"`
	PortscanMinUniquePortsSlow int      `yaml:"portscan_min_unique_ports_slow"`
	PortscanMinUniqueHostsFast int      `yaml:"portscan_min_unique_hosts_fast"`
	PortscanMinSynsFast        int      `yaml:"portscan_min_syns_fast"`
	PortscanMaxSynToSynAck     float64  `yaml:"portscan_max_syn_to_synack"`
	PortscanEnableUDPDetection bool     `yaml:"portscan_enable_udp_detection"`
	PortscanMinUDPProbesFast   int      `yaml:"portscan_min_udp_probes_fast"`
	PortscanMinICMPRatio       float64  `yaml:"portscan_min_icmp_ratio"`
	PortscanWhitelistCIDRs     []string `yaml:"portscan_whitelist_cidrs"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds the ambient logging knobs.
type LoggingConfig struct {
	// AlertsLog is the path to the tamper-evident, hash-chained alert log.
	// Empty disables it.
	AlertsLog string `yaml:"alerts_log"`

	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string `yaml:"level"`
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config, applies
// defaults, and validates all required fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.WindowSeconds == 0 {
		cfg.WindowSeconds = 10
	}
	if cfg.ICMPThresholdPerWindow == 0 {
		cfg.ICMPThresholdPerWindow = 20
	}
	if cfg.SSHThreshold == 0 {
		cfg.SSHThreshold = 10
	}
	if cfg.ARPMACChangeThreshold == 0 {
		cfg.ARPMACChangeThreshold = 5
	}
	if cfg.PortscanThreshold == 0 {
		cfg.PortscanThreshold = 10
	}
	if cfg.PortscanFastWindowSeconds == 0 {
		cfg.PortscanFastWindowSeconds = 60
	}
	if cfg.PortscanSlowWindowSeconds == 0 {
		cfg.PortscanSlowWindowSeconds = 600
	}
	if cfg.PortscanSlowDecay == 0 {
		cfg.PortscanSlowDecay = 0.95
	}
	if cfg.PortscanMinUniquePortsFast == 0 {
		cfg.PortscanMinUniquePortsFast = 10
	}
	if cfg.PortscanMinUniquePortsSlow == 0 {
		cfg.PortscanMinUniquePortsSlow = 20
	}
	if cfg.PortscanMinUniqueHostsFast == 0 {
		cfg.PortscanMinUniqueHostsFast = 5
	}
	if cfg.PortscanMinSynsFast == 0 {
		cfg.PortscanMinSynsFast = 15
	}
	if cfg.PortscanMaxSynToSynAck == 0 {
		cfg.PortscanMaxSynToSynAck = 3.0
	}
	if cfg.PortscanMinUDPProbesFast == 0 {
		cfg.PortscanMinUDPProbesFast = 10
	}
	if cfg.PortscanMinICMPRatio == 0 {
		cfg.PortscanMinICMPRatio = 0.5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Interface == "" {
		errs = append(errs, errors.New("interface is required"))
	}
	if !validLogLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Errorf("logging.level %q must be one of: debug, info, warn, error", cfg.Logging.Level))
	}
	for i, ip := range cfg.SSHWhitelistIPs {
		if net.ParseIP(ip) == nil {
			errs = append(errs, fmt.Errorf("ssh_whitelist_ips[%d]: %q is not a valid IP", i, ip))
		}
	}
	for i, cidr := range cfg.PortscanWhitelistCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			if net.ParseIP(cidr) == nil {
				errs = append(errs, fmt.Errorf("portscan_whitelist_cidrs[%d]: %q is not a valid CIDR or IP", i, cidr))
			}
		}
	}

	return errors.Join(errs...)
}

// InitialThresholds returns the ThresholdMap seed values derived from the
// loaded config, keyed by the wire-stable detector names.
func (c *Config) InitialThresholds() map[string]int {
	return map[string]int{
		"ssh":      c.SSHThreshold,
		"icmp":     c.ICMPThresholdPerWindow,
		"arp":      c.ARPMACChangeThreshold,
		"portscan": c.PortscanThreshold,
	}
}
