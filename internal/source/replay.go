package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/holoplane/artrack/internal/monitoring"
)

// Replay reads recorded UDP frame streams from a pcap file. Each UDP
// payload addressed to the configured port carries one or more wire-format
// lines; frames are reassembled and emitted with optional pacing. Used for
// offline runs and regression datasets.
type Replay struct {
	file     *os.File
	reader   *pcapgo.Reader
	udpPort  uint16
	interval time.Duration
	out      chan Frame
}

// openReplay builds a Replay source from configuration options:
// file=<pcap path> (required), port=<udp port>, interval=<duration>.
func openReplay(opts map[string]string) (*Replay, error) {
	path, ok := opts["file"]
	if !ok || path == "" {
		return nil, fmt.Errorf("%w: replay device requires file=", ErrInvalidConfig)
	}

	udpPort := uint16(4545)
	if raw, ok := opts["port"]; ok {
		v, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: option port=%q: %v", ErrInvalidConfig, raw, err)
		}
		udpPort = uint16(v)
	}

	interval, err := optDuration(opts, "interval", 0)
	if err != nil {
		return nil, err
	}

	return NewReplay(path, udpPort, interval)
}

// NewReplay opens a pcap file for frame replay.
func NewReplay(path string, udpPort uint16, interval time.Duration) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", ErrUnavailable, path, err)
	}

	reader, err := pcapgo.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: read pcap %q: %v", ErrUnavailable, path, err)
	}

	return &Replay{
		file:     f,
		reader:   reader,
		udpPort:  udpPort,
		interval: interval,
		out:      make(chan Frame),
	}, nil
}

// Frames returns the frame delivery channel.
func (r *Replay) Frames() <-chan Frame {
	return r.out
}

// Monitor decodes packets until the capture is exhausted, then waits for
// cancellation so a consumer never observes a closed channel mid-session.
func (r *Replay) Monitor(ctx context.Context) error {
	parser := &recordParser{}
	frames := 0

	for {
		data, _, err := r.reader.ReadPacketData()
		if err != nil {
			// End of capture (or truncated file): stop producing.
			break
		}

		packet := gopacket.NewPacket(data, r.reader.LinkType(), gopacket.Default)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp := udpLayer.(*layers.UDP)
		if uint16(udp.DstPort) != r.udpPort {
			continue
		}

		for _, line := range strings.Split(string(udp.Payload), "\n") {
			frame, err := parser.feed(line)
			if err != nil {
				monitoring.Logf("replay source: dropping line: %v", err)
				continue
			}
			if frame == nil {
				continue
			}
			if r.interval > 0 {
				select {
				case <-time.After(r.interval):
				case <-ctx.Done():
					return nil
				}
			}
			select {
			case r.out <- *frame:
				frames++
			case <-ctx.Done():
				return nil
			}
		}
	}

	monitoring.Logf("replay source exhausted after %d frames", frames)
	<-ctx.Done()
	return nil
}

// Close closes the underlying capture file.
func (r *Replay) Close() error {
	return r.file.Close()
}
