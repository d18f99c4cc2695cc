// Package pcapio stores Spike packets in pcap capture files, one UDP
// datagram per packet, so captures can be inspected with standard network
// tools and replayed into a relay.
package pcapio

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/spikestream/internal/events"
	"github.com/banshee-data/spikestream/internal/monitoring"
)

// DefaultPort is the UDP port used for Spike datagrams.
const DefaultPort = 7777

const snaplen = 65536

// FrameConfig sets the addresses written into synthesized frames.
type FrameConfig struct {
	SrcMAC, DstMAC   net.HardwareAddr
	SrcIP, DstIP     net.IP
	SrcPort, DstPort uint16
}

// DefaultFrameConfig is a loopback-style 127.0.0.1 to 127.0.0.1 frame on
// DefaultPort.
func DefaultFrameConfig() FrameConfig {
	return FrameConfig{
		SrcMAC:  net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:  net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		SrcIP:   net.IPv4(127, 0, 0, 1),
		DstIP:   net.IPv4(127, 0, 0, 1),
		SrcPort: DefaultPort,
		DstPort: DefaultPort,
	}
}

// Writer appends packets to a pcap stream as Ethernet/IPv4/UDP frames.
type Writer struct {
	w   *pcapgo.Writer
	cfg FrameConfig
	id  uint16
}

// NewWriter writes the pcap file header to w and returns a Writer.
func NewWriter(w io.Writer, cfg FrameConfig) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snaplen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Writer{w: pw, cfg: cfg}, nil
}

// WritePacket writes p as one frame captured at ts.
func (w *Writer) WritePacket(ts time.Time, p *events.Packet) error {
	eth := &layers.Ethernet{
		SrcMAC:       w.cfg.SrcMAC,
		DstMAC:       w.cfg.DstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Id:       w.id,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    w.cfg.SrcIP.To4(),
		DstIP:    w.cfg.DstIP.To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(w.cfg.SrcPort),
		DstPort: layers.UDPPort(w.cfg.DstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}
	w.id++

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(p.Bytes())); err != nil {
		return fmt.Errorf("failed to serialize frame: %w", err)
	}

	data := buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)}
	if err := w.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Reader yields the Spike-carrying datagrams of a pcap stream.
type Reader struct {
	r       *pcapgo.Reader
	port    uint16
	skipped int
}

// NewReader reads the pcap file header from r. Only UDP datagrams sent to
// port are returned; port 0 accepts any port.
func NewReader(r io.Reader, port uint16) (*Reader, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}
	return &Reader{r: pr, port: port}, nil
}

// Next returns the next packet and its capture time. Frames that are not
// UDP to the configured port, or whose payload is not a valid packet, are
// skipped and counted. It returns io.EOF at the end of the capture.
func (r *Reader) Next() (*events.Packet, time.Time, error) {
	for {
		data, ci, err := r.r.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, time.Time{}, io.EOF
			}
			return nil, time.Time{}, fmt.Errorf("failed to read frame: %w", err)
		}

		frame := gopacket.NewPacket(data, r.r.LinkType(), gopacket.Default)
		udpLayer := frame.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			r.skipped++
			continue
		}
		udp := udpLayer.(*layers.UDP)
		if r.port != 0 && uint16(udp.DstPort) != r.port {
			r.skipped++
			continue
		}

		p, err := events.FromBytes(append([]byte(nil), udp.Payload...))
		if err != nil {
			monitoring.Reportf(monitoring.LevelWarning, "pcapio", "skipping frame at %s: %v", ci.Timestamp.Format(time.RFC3339Nano), err)
			r.skipped++
			continue
		}
		return p, ci.Timestamp, nil
	}
}

// Skipped returns the number of frames skipped so far.
func (r *Reader) Skipped() int { return r.skipped }

// ReadAll reads every packet up to the end of the capture.
func (r *Reader) ReadAll() ([]*events.Packet, error) {
	var out []*events.Packet
	for {
		p, _, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
}
