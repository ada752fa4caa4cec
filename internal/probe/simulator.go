package probe

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"KSpectra/internal/model"

	"github.com/google/uuid"
)

// Emitter receives generated events.
type Emitter interface {
	PublishPacket(p model.Packet) error
	PublishAlert(a model.Alert) error
	PublishStats(s model.StatsSnapshot) error
}

var (
	simProtocols  = []model.Protocol{model.ProtocolHTTP, model.ProtocolHTTPS, model.ProtocolTCP, model.ProtocolUDP, model.ProtocolDNS, model.ProtocolARP}
	simAlertTypes = []model.AlertType{model.AlertSYNFlood, model.AlertARPSpoofing, model.AlertDNSPoisoning}
	simSeverities = []model.Severity{model.SeverityLow, model.SeverityMedium, model.SeverityHigh, model.SeverityCritical}
)

// Simulator generates synthetic traffic: one packet per step, an occasional alert,
// and the stats delta describing the step.
type Simulator struct {
	emitter    Emitter
	rng        *rand.Rand
	alertRatio float64
	now        func() time.Time
	newID      func() string
}

// NewSimulator creates a simulator. The same seed yields the same event sequence.
func NewSimulator(emitter Emitter, alertRatio float64, seed int64) *Simulator {
	return &Simulator{
		emitter:    emitter,
		rng:        rand.New(rand.NewSource(seed)),
		alertRatio: alertRatio,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

func (s *Simulator) hostIP() string {
	return fmt.Sprintf("192.168.1.%d", 1+s.rng.Intn(254))
}

func (s *Simulator) packet() model.Packet {
	p := model.Packet{
		ID:            s.newID(),
		Timestamp:     s.now().UTC(),
		SourceIP:      s.hostIP(),
		DestinationIP: s.hostIP(),
		Protocol:      simProtocols[s.rng.Intn(len(simProtocols))],
		Size:          64 + s.rng.Intn(1500-64+1),
	}
	if p.Protocol != model.ProtocolARP {
		p.Port = model.PortOf(uint16(1000 + s.rng.Intn(8001)))
	}
	return p
}

func (s *Simulator) alert(p model.Packet) model.Alert {
	a := model.Alert{
		ID:          s.newID(),
		Type:        simAlertTypes[s.rng.Intn(len(simAlertTypes))],
		Severity:    simSeverities[s.rng.Intn(len(simSeverities))],
		Timestamp:   s.now().UTC(),
		Description: fmt.Sprintf("Suspicious activity from %s", p.SourceIP),
		InvolvedIPs: []string{p.SourceIP, p.DestinationIP},
	}
	if p.HasPort() {
		a.Details = map[string]any{"port": int(*p.Port)}
	}
	return a
}

// Step emits one packet, possibly one alert, and the matching stats delta.
func (s *Simulator) Step() error {
	p := s.packet()
	if err := s.emitter.PublishPacket(p); err != nil {
		return err
	}

	var alerts int64
	if s.rng.Float64() < s.alertRatio {
		if err := s.emitter.PublishAlert(s.alert(p)); err != nil {
			return err
		}
		alerts = 1
	}

	return s.emitter.PublishStats(model.StatsSnapshot{
		TotalPackets:         1,
		PacketsPerSecond:     float64(50 + s.rng.Intn(71)),
		TotalAlerts:          alerts,
		ActiveConnections:    int64(10 + s.rng.Intn(21)),
		ProtocolDistribution: map[model.Protocol]int64{p.Protocol: 1},
		TopSourceIPs:         []model.IPCount{{IP: p.SourceIP, Count: 1}},
		TopDestinationIPs:    []model.IPCount{{IP: p.DestinationIP, Count: 1}},
	})
}

// Run steps once per interval until ctx is done. A failed step is returned to the caller.
func (s *Simulator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Step(); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
