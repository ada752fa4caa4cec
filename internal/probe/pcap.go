package probe

import (
	"errors"
	"fmt"
	"io"

	"KSpectra/internal/logging"
	"KSpectra/internal/model"

	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"
)

// ReplayPcap reads a pcap stream and hands every decodable packet to fn, in file order.
// Frames that cannot be classified are skipped. It returns the number of packets handed
// to fn and stops at the first error fn returns.
func ReplayPcap(r io.Reader, fn func(model.Packet) error, logger *zap.Logger) (int, error) {
	logger = logging.OrNop(logger).Named("pcap")

	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to open pcap stream: %w", err)
	}

	var handled, skipped int
	for {
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return handled, fmt.Errorf("failed to read packet %d: %w", handled+skipped+1, err)
		}

		p, err := parseFrame(data, reader.LinkType(), ci.Timestamp)
		if err != nil {
			skipped++
			logger.Debug("Skipping packet", zap.Error(err))
			continue
		}
		if err := fn(p); err != nil {
			return handled, err
		}
		handled++
	}

	logger.Info("Pcap replay finished", zap.Int("packets", handled), zap.Int("skipped", skipped))
	return handled, nil
}
