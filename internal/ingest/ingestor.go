package ingest

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"KSpectra/internal/config"
	"KSpectra/internal/logging"
	"KSpectra/internal/metrics"
	"KSpectra/internal/model"
	"KSpectra/internal/wire"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Sink receives decoded events in arrival order.
type Sink interface {
	HandlePacket(p model.Packet)
	HandleAlert(a model.Alert)
	HandleStats(s model.StatsSnapshot)
}

// Event kinds, used as metric labels.
const (
	KindPacket = "packet"
	KindAlert  = "alert"
	KindStats  = "stats"
)

// Ingestor owns a single NATS session and forwards the three event subjects to a Sink.
// The session is never re-established; a disconnect only clears the connectivity flag.
type Ingestor struct {
	cfg      config.StreamConfig
	subjects wire.Subjects
	dec      decoder
	sink     Sink
	metrics  *metrics.Metrics
	logger   *zap.Logger

	// nats callbacks run on one goroutine per subscription; mu keeps the sink single-writer.
	mu        sync.Mutex
	nc        *nats.Conn
	subs      []*nats.Subscription
	connected atomic.Bool
	started   atomic.Bool
	stopOnce  sync.Once
}

// NewIngestor creates an ingestor. Nothing is connected until Start.
func NewIngestor(cfg config.StreamConfig, sink Sink, m *metrics.Metrics, logger *zap.Logger) (*Ingestor, error) {
	codec, err := wire.NewCodec(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, errors.New("ingestor needs a sink")
	}
	return &Ingestor{
		cfg:      cfg,
		subjects: wire.SubjectsFor(cfg.SubjectPrefix),
		dec:      decoder{codec: codec, now: time.Now, newID: uuid.NewString},
		sink:     sink,
		metrics:  m,
		logger:   logging.OrNop(logger).Named("ingest"),
	}, nil
}

// Start connects once and subscribes to the packet, alert and stats subjects.
func (i *Ingestor) Start() error {
	if !i.started.CompareAndSwap(false, true) {
		return errors.New("ingestor already started")
	}

	opts := []nats.Option{
		nats.Name("kspectra-engine"),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			i.setConnected(false)
			i.logger.Warn("Disconnected from NATS", zap.Error(err))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			i.setConnected(false)
			i.logger.Info("NATS connection closed")
		}),
	}
	if t := i.cfg.ConnectTimeout.Std(); t > 0 {
		opts = append(opts, nats.Timeout(t))
	}

	nc, err := nats.Connect(i.cfg.NATSURL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", i.cfg.NATSURL, err)
	}
	i.nc = nc
	i.setConnected(true)
	i.logger.Info("Connected to NATS", zap.String("url", i.cfg.NATSURL), zap.String("encoding", i.dec.codec.Name()))

	for _, subject := range []string{i.subjects.Packet, i.subjects.Alert, i.subjects.Stats} {
		sub, err := nc.Subscribe(subject, i.HandleMsg)
		if err != nil {
			i.Stop()
			return fmt.Errorf("failed to subscribe to '%s': %w", subject, err)
		}
		i.subs = append(i.subs, sub)
		i.logger.Info("Subscribed", zap.String("subject", subject))
	}
	if err := nc.Flush(); err != nil {
		i.Stop()
		return fmt.Errorf("failed to register subscriptions: %w", err)
	}
	return nil
}

// HandleMsg decodes one message and hands it to the sink. Undecodable payloads are logged,
// counted and dropped.
func (i *Ingestor) HandleMsg(msg *nats.Msg) {
	var kind string
	var err error

	i.mu.Lock()
	defer i.mu.Unlock()

	switch msg.Subject {
	case i.subjects.Packet:
		kind = KindPacket
		var p model.Packet
		if p, err = i.dec.packet(msg.Data); err == nil {
			i.sink.HandlePacket(p)
		}
	case i.subjects.Alert:
		kind = KindAlert
		var a model.Alert
		if a, err = i.dec.alert(msg.Data); err == nil {
			i.sink.HandleAlert(a)
		}
	case i.subjects.Stats:
		kind = KindStats
		var s model.StatsSnapshot
		if s, err = i.dec.stats(msg.Data); err == nil {
			i.sink.HandleStats(s)
		}
	default:
		i.logger.Debug("Ignoring message on unknown subject", zap.String("subject", msg.Subject))
		return
	}

	if err != nil {
		i.metrics.ObserveInvalid(kind)
		i.logger.Warn("Dropping invalid event", zap.String("kind", kind), zap.Error(err))
		return
	}
	i.metrics.ObserveEvent(kind)
}

// Connected reports whether the NATS session is up.
func (i *Ingestor) Connected() bool {
	return i.connected.Load()
}

func (i *Ingestor) setConnected(v bool) {
	i.connected.Store(v)
	i.metrics.SetConnected(v)
}

// Stop unsubscribes and closes the connection. Only the first call does anything.
func (i *Ingestor) Stop() {
	i.stopOnce.Do(func() {
		for _, sub := range i.subs {
			if err := sub.Unsubscribe(); err != nil {
				i.logger.Debug("Unsubscribe failed", zap.String("subject", sub.Subject), zap.Error(err))
			}
		}
		if i.nc != nil {
			i.nc.Close()
		}
		i.setConnected(false)
		i.logger.Info("Ingestor stopped")
	})
}
