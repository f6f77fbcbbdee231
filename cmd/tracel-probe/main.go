package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"tracel-engine/internal/gateway"
	"tracel-engine/internal/model"
	"tracel-engine/internal/utils"
)

// probe observations: three shaped like training-set normal traffic,
// three shaped like flood traffic.
var samples = []struct {
	label string
	pkt   model.Packet
}{
	{"normal web", model.Packet{Protocol: "HTTP", Method: "GET", Bytes: 300, Entropy: 0.20, DestPort: 443}},
	{"normal upload", model.Packet{Protocol: "HTTP", Method: "POST", Bytes: 900, Entropy: 0.40, DestPort: 80}},
	{"rdp probe", model.Packet{Protocol: "UDP", Bytes: 300, Entropy: 0.90, DestPort: 3389}},
	{"dns flood", model.Packet{Protocol: "UDP", Bytes: 300, Entropy: 0.95, DestPort: 53}},
	{"icmp sweep", model.Packet{Protocol: "ICMP", Bytes: 120, Entropy: 0.85, DestPort: 23}},
	{"volumetric", model.Packet{Protocol: "UDP", Bytes: 50000, Entropy: 0.95, DestPort: 4444}},
}

func main() {
	var (
		gatewayURL = flag.String("gateway", "http://localhost:8000", "Scoring gateway base URL")
		timeout    = flag.Duration("timeout", 5*time.Second, "Per-request timeout")
	)
	flag.Parse()

	logger := utils.NewLogger("WARN")
	client := gateway.NewClient(*gatewayURL, *timeout, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	health, err := client.Health(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Gateway unreachable at %s: %v\n", *gatewayURL, err)
		os.Exit(1)
	}

	fmt.Printf("Gateway: ok=%v modelLoaded=%v", health.OK, health.ModelLoaded)
	if health.Threshold != nil {
		fmt.Printf(" threshold=%.6f", *health.Threshold)
	}
	fmt.Println()

	if !health.ModelLoaded {
		fmt.Fprintln(os.Stderr, "Model not loaded, scores will be unavailable")
	}

	for _, sample := range samples {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		score, ok := client.Score(ctx, sample.pkt)
		cancel()

		if !ok {
			fmt.Printf("%-14s  score=unavailable\n", sample.label)
			continue
		}

		verdict := "?"
		if health.Threshold != nil {
			if score < *health.Threshold {
				verdict = "ANOMALY"
			} else {
				verdict = "normal"
			}
		}
		fmt.Printf("%-14s  score=%+.6f  verdict=%s\n", sample.label, score, verdict)
	}
}
