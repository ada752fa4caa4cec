package probe

import (
	"fmt"

	"KSpectra/internal/config"
	"KSpectra/internal/logging"
	"KSpectra/internal/metrics"
	"KSpectra/internal/model"
	"KSpectra/internal/wire"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher encodes events and publishes them to their NATS subjects.
type Publisher struct {
	nc       *nats.Conn
	send     func(subject string, data []byte) error
	codec    wire.Codec
	subjects wire.Subjects
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewPublisher connects to NATS and prepares the configured encoding.
func NewPublisher(cfg config.StreamConfig, m *metrics.Metrics, logger *zap.Logger) (*Publisher, error) {
	codec, err := wire.NewCodec(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	opts := []nats.Option{nats.Name("kspectra-probe")}
	if t := cfg.ConnectTimeout.Std(); t > 0 {
		opts = append(opts, nats.Timeout(t))
	}
	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}

	logger = logging.OrNop(logger).Named("publisher")
	logger.Info("Connected to NATS", zap.String("url", cfg.NATSURL), zap.String("encoding", codec.Name()))
	return &Publisher{
		nc:       nc,
		send:     nc.Publish,
		codec:    codec,
		subjects: wire.SubjectsFor(cfg.SubjectPrefix),
		metrics:  m,
		logger:   logger,
	}, nil
}

func (p *Publisher) publish(subject string, v any) error {
	data, err := p.codec.Marshal(v)
	if err == nil {
		err = p.send(subject, data)
	}
	if err != nil {
		p.metrics.IncrementPublishErrors()
		return fmt.Errorf("failed to publish to '%s': %w", subject, err)
	}
	return nil
}

// PublishPacket publishes a packet event.
func (p *Publisher) PublishPacket(pk model.Packet) error {
	return p.publish(p.subjects.Packet, pk)
}

// PublishAlert publishes an alert event.
func (p *Publisher) PublishAlert(a model.Alert) error {
	return p.publish(p.subjects.Alert, a)
}

// PublishStats publishes a statistics delta.
func (p *Publisher) PublishStats(s model.StatsSnapshot) error {
	return p.publish(p.subjects.Stats, s)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.logger.Warn("NATS drain failed", zap.Error(err))
		}
		p.logger.Info("NATS connection drained and closed.")
	}
}
