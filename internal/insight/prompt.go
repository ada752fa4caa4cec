package insight

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"KSpectra/internal/model"
)

// DefaultMaxPromptPackets is how many recent packets a prompt describes.
const DefaultMaxPromptPackets = 20

const (
	promptHeader = "You are a network security expert. Analyze the following network traffic and alerts for insights."
	promptFooter = "Provide a concise summary of any patterns, threats, or anomalies you observe. If all looks normal, say so."
)

// BuildPrompt renders packets (newest first) and alerts into the insight prompt.
// Only the first maxPackets packets are included.
func BuildPrompt(packets []model.Packet, alerts []model.Alert, maxPackets int) string {
	if maxPackets <= 0 {
		maxPackets = DefaultMaxPromptPackets
	}
	if len(packets) > maxPackets {
		packets = packets[:maxPackets]
	}

	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("\n\nRecent Network Packets:\n")
	for i, p := range packets {
		if i > 0 {
			b.WriteByte('\n')
		}
		port := "-"
		if p.HasPort() {
			port = strconv.Itoa(int(*p.Port))
		}
		fmt.Fprintf(&b, "Time: %s, Src: %s, Dest: %s, Protocol: %s, Port: %s",
			p.Timestamp.UTC().Format(time.RFC3339Nano), p.SourceIP, p.DestinationIP, p.Protocol, port)
	}

	b.WriteString("\n\nRecent Alerts:\n")
	for i, a := range alerts {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "Alert: %s, Severity: %s, IPs: %s", a.Type, a.Severity, strings.Join(a.InvolvedIPs, ", "))
	}

	b.WriteString("\n\n")
	b.WriteString(promptFooter)
	return b.String()
}

// HashPrompt returns the FNV-1a 64-bit hash of prompt in hex.
func HashPrompt(prompt string) string {
	h := fnv.New64a()
	h.Write([]byte(prompt))
	return strconv.FormatUint(h.Sum64(), 16)
}
