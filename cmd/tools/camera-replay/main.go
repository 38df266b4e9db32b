//go:build pcap
// +build pcap

// Package main provides a camera datagram replay tool. It reads captured
// camera inference traffic from a PCAP file and re-emits each UDP payload
// to a target address with the original pacing, so the consolidation
// pipeline can be exercised against recorded traffic without a camera.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

var (
	pcapFile = flag.String("pcap", "", "PCAP file with captured camera traffic (required)")
	port     = flag.Int("port", 5600, "UDP port the capture used; sets the BPF filter")
	target   = flag.String("target", "localhost:5600", "Address to replay datagrams to")
	speed    = flag.Float64("speed", 1.0, "Replay speed multiplier (1.0 = original pacing)")
)

func main() {
	flag.Parse()

	if *pcapFile == "" {
		fmt.Fprintln(os.Stderr, "camera-replay: -pcap is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := replay(ctx, *pcapFile, *port, *target, *speed); err != nil && err != context.Canceled {
		log.Fatalf("replay failed: %v", err)
	}
}

// replay re-emits the capture's UDP payloads to the target, pacing sends by
// the capture timestamps scaled by the speed multiplier.
func replay(ctx context.Context, file string, udpPort int, target string, speedMultiplier float64) error {
	if speedMultiplier <= 0 {
		speedMultiplier = 1.0
	}

	handle, err := pcap.OpenOffline(file)
	if err != nil {
		return fmt.Errorf("open capture %s: %w", file, err)
	}
	defer handle.Close()

	bpf := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(bpf); err != nil {
		return fmt.Errorf("set filter %q: %w", bpf, err)
	}

	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", target, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	log.Printf("Replaying %s to %s (filter: %s, speed: %.1fx)", file, target, bpf, speedMultiplier)

	src := gopacket.NewPacketSource(handle, handle.LinkType())
	sent := 0
	began := time.Now()
	var prevStamp time.Time

	for {
		select {
		case <-ctx.Done():
			log.Printf("Replay stopping (sent %d datagrams)", sent)
			return ctx.Err()
		case packet := <-src.Packets():
			if packet == nil {
				log.Printf("Replay complete: %d datagrams in %v", sent, time.Since(began))
				return nil
			}

			// Sleep for the inter-packet gap from the capture, scaled.
			stamp := packet.Metadata().Timestamp
			if !prevStamp.IsZero() {
				if gap := time.Duration(float64(stamp.Sub(prevStamp)) / speedMultiplier); gap > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(gap):
					}
				}
			}
			prevStamp = stamp

			// A nil Layer fails the assertion, so non-UDP packets fall
			// through here too.
			udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
			if !ok || len(udp.Payload) == 0 {
				continue
			}

			if _, err := conn.Write(udp.Payload); err != nil {
				log.Printf("Send %d failed: %v", sent+1, err)
				continue
			}
			sent++

			if sent%1000 == 0 {
				log.Printf("Replay progress: %d datagrams in %v", sent, time.Since(began))
			}
		}
	}
}
