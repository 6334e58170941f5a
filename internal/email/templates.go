package email

import (
	"fmt"
	"strings"
	"time"

	"github.com/netsentinel/ids/internal/alert"
)

// template renders the subject and body for an alert of a registered
// detector kind.
type template func(a alert.Alert) (subject, body string)

// templates mirrors the three human-readable notifications the original
// detection service sends: a plain-language explanation of the heuristic
// followed by a structured "Alert Details" footer populated from the
// alert's fields. port_scan has no registered template; it alerts at
// medium severity and is not email-worthy on its own.
var templates = map[string]template{
	alert.DetectorSSHBruteforce: sshTemplate,
	alert.DetectorICMPFlood:     icmpTemplate,
	alert.DetectorARPSpoof:      arpTemplate,
}

func sshTemplate(a alert.Alert) (string, string) {
	var b strings.Builder
	b.WriteString("SSH Brute-Force Detection (Simple Explanation)\n\n")
	b.WriteString("The SSH brute-force detector watches for repeated login attempts ")
	b.WriteString("against this host in a short window. A normal user logs in once or ")
	b.WriteString("twice; an attacker may try dozens of attempts very quickly.\n\n")
	b.WriteString("In simple terms:\n")
	b.WriteString("- It counts SSH login attempts in a short time\n")
	b.WriteString("- It looks for unusually fast repeated attempts\n")
	b.WriteString("- It warns you if someone may be trying to break in\n\n")
	b.WriteString("--------------------------------------------------\n")
	b.WriteString("Alert Details:\n")
	fmt.Fprintf(&b, "- Source IP: %v\n", a.Fields["src"])
	fmt.Fprintf(&b, "- Message: %s\n", a.Message)
	fmt.Fprintf(&b, "- Timestamp: %s\n", formatTimestamp(a.Timestamp))
	b.WriteString("--------------------------------------------------\n")
	return "SSH Brute-Force Attack Detected", b.String()
}

func icmpTemplate(a alert.Alert) (string, string) {
	var b strings.Builder
	b.WriteString("ICMP Flood Detection (Simple Explanation)\n\n")
	b.WriteString("An ICMP flood occurs when a huge number of ping packets (ICMP Echo ")
	b.WriteString("Requests) arrive to overload this host. Pings are normally harmless, ")
	b.WriteString("but too many at once can slow down or freeze a device.\n\n")
	b.WriteString("In simple terms:\n")
	b.WriteString("- It counts ICMP packets (pings) hitting this host\n")
	b.WriteString("- It notices when the rate becomes extremely high\n")
	b.WriteString("- It warns you if someone may be trying to overload the network\n\n")
	b.WriteString("--------------------------------------------------\n")
	b.WriteString("Alert Details:\n")
	fmt.Fprintf(&b, "- Source IP: %v\n", a.Fields["src"])
	fmt.Fprintf(&b, "- Packet Rate: %v packets/sec\n", a.Fields["pps"])
	fmt.Fprintf(&b, "- Timestamp: %s\n", formatTimestamp(a.Timestamp))
	b.WriteString("--------------------------------------------------\n")
	return "ICMP Flood Attack Detected", b.String()
}

func arpTemplate(a alert.Alert) (string, string) {
	var b strings.Builder
	b.WriteString("ARP Spoofing Detection (Simple Explanation)\n\n")
	b.WriteString("ARP maps IP addresses to device MAC addresses on the local network.\n")
	b.WriteString("Normally one IP keeps the same MAC. If that mapping changes many times\n")
	b.WriteString("in a short period, it may indicate someone is impersonating a device to\n")
	b.WriteString("intercept traffic.\n\n")
	b.WriteString("In simple terms:\n")
	b.WriteString("- Watches IP-to-MAC changes over time\n")
	b.WriteString("- Flags unusually frequent changes\n")
	b.WriteString("- Warns if someone may be spoofing identities\n\n")
	b.WriteString("--------------------------------------------------\n")
	b.WriteString("Alert Details:\n")
	fmt.Fprintf(&b, "- IP: %v\n", a.Fields["ip"])
	fmt.Fprintf(&b, "- Current MAC: %v\n", a.Fields["mac"])
	fmt.Fprintf(&b, "- Changes: %v in %vs\n", a.Fields["mac_changes"], a.Fields["window_seconds"])
	fmt.Fprintf(&b, "- Known MACs: %v\n", a.Fields["known_macs"])
	fmt.Fprintf(&b, "- Message: %s\n", a.Message)
	fmt.Fprintf(&b, "- Timestamp: %s\n", formatTimestamp(a.Timestamp))
	b.WriteString("--------------------------------------------------\n")
	return "ARP Spoofing Detected", b.String()
}

func formatTimestamp(ts float64) string {
	return time.Unix(int64(ts), 0).UTC().Format(time.RFC1123)
}
