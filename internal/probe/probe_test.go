package probe

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"KSpectra/internal/metrics"
	"KSpectra/internal/model"
	"KSpectra/internal/wire"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	macA = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	macB = net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return buf.Bytes()
}

func ipv4(proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
}

func eth(t layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: macA, DstMAC: macB, EthernetType: t}
}

func tcpFrame(t *testing.T, src, dst uint16) []byte {
	ip := ipv4(layers.IPProtocolTCP)
	tcp := &layers.TCP{SrcPort: layers.TCPPort(src), DstPort: layers.TCPPort(dst), SYN: true, Window: 1024}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth(layers.EthernetTypeIPv4), ip, tcp)
}

func udpFrame(t *testing.T, src, dst uint16) []byte {
	ip := ipv4(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(src), DstPort: layers.UDPPort(dst)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth(layers.EthernetTypeIPv4), ip, udp, gopacket.Payload([]byte{0, 1, 2, 3}))
}

func arpFrame(t *testing.T) []byte {
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   macA,
		SourceProtAddress: []byte{192, 168, 1, 5},
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{192, 168, 1, 1},
	}
	return serialize(t, eth(layers.EthernetTypeARP), arp)
}

func icmpFrame(t *testing.T) []byte {
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}
	return serialize(t, eth(layers.EthernetTypeIPv4), ipv4(layers.IPProtocolICMPv4), icmp)
}

func TestParsePacket_Classification(t *testing.T) {
	cases := []struct {
		name  string
		frame []byte
		proto model.Protocol
		port  uint16
	}{
		{"https", tcpFrame(t, 51000, 443), model.ProtocolHTTPS, 443},
		{"http reply", tcpFrame(t, 80, 51000), model.ProtocolHTTP, 80},
		{"http alt", tcpFrame(t, 51000, 8080), model.ProtocolHTTP, 8080},
		{"plain tcp", tcpFrame(t, 51000, 2222), model.ProtocolTCP, 2222},
		{"dns", udpFrame(t, 40000, 53), model.ProtocolDNS, 53},
		{"plain udp", udpFrame(t, 40000, 5000), model.ProtocolUDP, 5000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParsePacket(tc.frame)
			require.NoError(t, err)
			assert.Equal(t, tc.proto, p.Protocol)
			require.True(t, p.HasPort())
			assert.Equal(t, tc.port, *p.Port)
			assert.Equal(t, "10.0.0.1", p.SourceIP)
			assert.Equal(t, "10.0.0.2", p.DestinationIP)
			assert.Equal(t, len(tc.frame), p.Size)
			assert.NotEmpty(t, p.ID)
		})
	}
}

func TestParsePacket_ARPAndICMP(t *testing.T) {
	p, err := ParsePacket(arpFrame(t))
	require.NoError(t, err)
	assert.Equal(t, model.ProtocolARP, p.Protocol)
	assert.Equal(t, "192.168.1.5", p.SourceIP)
	assert.Equal(t, "192.168.1.1", p.DestinationIP)
	assert.False(t, p.HasPort())

	p, err = ParsePacket(icmpFrame(t))
	require.NoError(t, err)
	assert.Equal(t, model.ProtocolICMP, p.Protocol)
	assert.False(t, p.HasPort())
}

func TestParsePacket_Unsupported(t *testing.T) {
	_, err := ParsePacket([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrUnsupportedPacket)
}

func TestReplayPcap(t *testing.T) {
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	frames := [][]byte{tcpFrame(t, 51000, 443), {0xde, 0xad}, arpFrame(t), udpFrame(t, 40000, 53)}
	for i, f := range frames {
		ci := gopacket.CaptureInfo{Timestamp: base.Add(time.Duration(i) * time.Second), CaptureLength: len(f), Length: len(f)}
		require.NoError(t, w.WritePacket(ci, f))
	}

	var got []model.Packet
	n, err := ReplayPcap(&buf, func(p model.Packet) error {
		got = append(got, p)
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, got, 3)
	assert.Equal(t, model.ProtocolHTTPS, got[0].Protocol)
	assert.Equal(t, model.ProtocolARP, got[1].Protocol)
	assert.Equal(t, model.ProtocolDNS, got[2].Protocol)
	assert.True(t, got[0].Timestamp.Equal(base))
	assert.True(t, got[2].Timestamp.Equal(base.Add(3*time.Second)))
}

func TestReplayPcap_StopsOnCallbackError(t *testing.T) {
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i := 0; i < 3; i++ {
		f := tcpFrame(t, 51000, 443)
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(f), Length: len(f)}, f))
	}

	stop := errors.New("stop")
	n, err := ReplayPcap(&buf, func(model.Packet) error { return stop }, nil)
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 0, n)
}

func TestReplayPcap_BadHeader(t *testing.T) {
	_, err := ReplayPcap(bytes.NewReader([]byte("not a pcap")), func(model.Packet) error { return nil }, nil)
	assert.Error(t, err)
}

type sent struct {
	subject string
	data    []byte
}

func newTestPublisher(t *testing.T, fail bool, m *metrics.Metrics) (*Publisher, *[]sent) {
	t.Helper()
	codec, err := wire.NewCodec(wire.EncodingJSON)
	require.NoError(t, err)
	var out []sent
	return &Publisher{
		send: func(subject string, data []byte) error {
			if fail {
				return errors.New("connection closed")
			}
			out = append(out, sent{subject, data})
			return nil
		},
		codec:    codec,
		subjects: wire.SubjectsFor("kspectra"),
		metrics:  m,
	}, &out
}

func TestPublisher_RoutesBySubject(t *testing.T) {
	p, out := newTestPublisher(t, false, nil)
	subjects := wire.SubjectsFor("kspectra")

	require.NoError(t, p.PublishPacket(model.Packet{ID: "p1", Protocol: model.ProtocolTCP}))
	require.NoError(t, p.PublishAlert(model.Alert{ID: "a1", Type: model.AlertSYNFlood}))
	require.NoError(t, p.PublishStats(model.StatsSnapshot{TotalPackets: 1}))

	require.Len(t, *out, 3)
	assert.Equal(t, subjects.Packet, (*out)[0].subject)
	assert.Equal(t, subjects.Alert, (*out)[1].subject)
	assert.Equal(t, subjects.Stats, (*out)[2].subject)
	assert.Contains(t, string((*out)[0].data), `"id":"p1"`)
}

func TestPublisher_CountsErrors(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p, _ := newTestPublisher(t, true, m)

	assert.Error(t, p.PublishPacket(model.Packet{ID: "p1"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishErrorsTotal))
}

type recordingEmitter struct {
	packets []model.Packet
	alerts  []model.Alert
	stats   []model.StatsSnapshot
}

func (r *recordingEmitter) PublishPacket(p model.Packet) error {
	r.packets = append(r.packets, p)
	return nil
}

func (r *recordingEmitter) PublishAlert(a model.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingEmitter) PublishStats(s model.StatsSnapshot) error {
	r.stats = append(r.stats, s)
	return nil
}

func TestSimulator_StepsProduceValidDeltas(t *testing.T) {
	rec := &recordingEmitter{}
	sim := NewSimulator(rec, 0.5, 7)
	for i := 0; i < 200; i++ {
		require.NoError(t, sim.Step())
	}

	require.Len(t, rec.packets, 200)
	require.Len(t, rec.stats, 200)
	assert.NotEmpty(t, rec.alerts)
	assert.Less(t, len(rec.alerts), 200)

	var alertDeltas int64
	for i, p := range rec.packets {
		assert.True(t, p.Protocol.Valid())
		assert.GreaterOrEqual(t, p.Size, 64)
		assert.LessOrEqual(t, p.Size, 1500)
		if p.Protocol == model.ProtocolARP {
			assert.False(t, p.HasPort())
		} else {
			require.True(t, p.HasPort())
			assert.GreaterOrEqual(t, *p.Port, uint16(1000))
			assert.LessOrEqual(t, *p.Port, uint16(9000))
		}

		s := rec.stats[i]
		assert.Equal(t, int64(1), s.TotalPackets)
		assert.Equal(t, int64(1), s.ProtocolDistribution[p.Protocol])
		assert.GreaterOrEqual(t, s.PacketsPerSecond, 50.0)
		assert.LessOrEqual(t, s.PacketsPerSecond, 120.0)
		assert.GreaterOrEqual(t, s.ActiveConnections, int64(10))
		assert.LessOrEqual(t, s.ActiveConnections, int64(30))
		alertDeltas += s.TotalAlerts
	}
	assert.Equal(t, int64(len(rec.alerts)), alertDeltas)
}

func TestSimulator_Deterministic(t *testing.T) {
	a, b := &recordingEmitter{}, &recordingEmitter{}
	simA, simB := NewSimulator(a, 0.3, 99), NewSimulator(b, 0.3, 99)
	for i := 0; i < 20; i++ {
		require.NoError(t, simA.Step())
		require.NoError(t, simB.Step())
	}
	require.Equal(t, len(a.packets), len(b.packets))
	for i := range a.packets {
		assert.Equal(t, a.packets[i].SourceIP, b.packets[i].SourceIP)
		assert.Equal(t, a.packets[i].Protocol, b.packets[i].Protocol)
	}
	assert.Equal(t, len(a.alerts), len(b.alerts))
}
