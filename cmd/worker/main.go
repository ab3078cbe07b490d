package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ai-relay-be/internal/config"
	"ai-relay-be/pkg/relay/cipher"
	"ai-relay-be/pkg/relay/envelope"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Simulated inference worker for local development: consumes sealed
// requests from the relay, answers with a canned reply after a short
// delay, and publishes periodic health reports. Run it next to cmd/rest
// to exercise the full round trip without a real inference engine.
func main() {
	cfg := config.Load()

	key, err := cipher.ParseKeyHex(cfg.Relay.PSKHex)
	if err != nil {
		log.Fatalf("Invalid RELAY_PSK_HEX: %v", err)
	}

	workerId := os.Getenv("WORKER_ID")
	if workerId == "" {
		workerId = "sim-worker-1"
	}

	nc, err := nats.Connect(cfg.App.NatsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		log.Fatalf("Failed to create JetStream context: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prefix := cfg.Relay.ChannelPrefix

	consumer, err := js.CreateOrUpdateConsumer(ctx, "RELAY", jetstream.ConsumerConfig{
		Durable:        "worker-outbound",
		FilterSubjects: []string{prefix + ".session.*.out"},
		AckPolicy:      jetstream.AckExplicitPolicy,
	})
	if err != nil {
		log.Fatalf("Failed to create consumer: %v", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		defer msg.Ack()
		handleRequest(ctx, js, key, msg)
	})
	if err != nil {
		log.Fatalf("Failed to start consuming: %v", err)
	}
	defer cc.Stop()

	go reportMetrics(ctx, js, key, prefix, workerId)

	log.Printf("Simulated worker %s listening on %s.session.*.out", workerId, prefix)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("Worker shutting down")
}

func handleRequest(ctx context.Context, js jetstream.JetStream, key []byte, msg jetstream.Msg) {
	env, err := envelope.Decode(msg.Data())
	if err != nil {
		log.Printf("Dropping malformed envelope: %v", err)
		return
	}

	plaintext, err := cipher.Open(key, env.Payload, env.AssociatedData())
	if err != nil {
		log.Printf("Dropping undecryptable request %s", env.RequestId)
		return
	}

	var req envelope.RequestPayload
	if err := json.Unmarshal(plaintext, &req); err != nil {
		log.Printf("Malformed request payload %s: %v", env.RequestId, err)
		return
	}

	// Pretend to think.
	time.Sleep(300 * time.Millisecond)

	resp := envelope.ResponsePayload{
		RequestId:    req.RequestId,
		ResponseText: fmt.Sprintf("Simulated reply (temp %.1f): you said %q.", req.Parameters.Temperature, req.Prompt),
		Metrics: &envelope.WorkerMetrics{
			TokensPerSecond: 42,
			TotalTokens:     len(strings.Fields(req.Prompt)) + 12,
			ModelName:       "sim-echo-7b",
		},
	}
	respPlain, _ := json.Marshal(resp)

	sealed, err := cipher.Seal(key, respPlain, envelope.AssociatedData(req.RequestId, envelope.DirectionResponse))
	if err != nil {
		log.Printf("Failed to seal response %s: %v", req.RequestId, err)
		return
	}

	out := envelope.Envelope{
		RequestId: req.RequestId,
		Direction: envelope.DirectionResponse,
		Payload:   sealed,
	}
	data, _ := out.Encode()

	subject := strings.TrimSuffix(msg.Subject(), ".out") + ".in"
	if _, err := js.Publish(ctx, subject, data); err != nil {
		log.Printf("Failed to publish response %s: %v", req.RequestId, err)
		return
	}
	log.Printf("Answered request %s on %s", req.RequestId, subject)
}

func reportMetrics(ctx context.Context, js jetstream.JetStream, key []byte, prefix, workerId string) {
	started := time.Now()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			report := envelope.MetricsPayload{
				WorkerId:        workerId,
				TokensPerSecond: 42,
				QueueDepth:      0,
				UptimeSeconds:   int64(time.Since(started).Seconds()),
				ModelName:       "sim-echo-7b",
			}
			plain, _ := json.Marshal(report)

			sealed, err := cipher.Seal(key, plain, envelope.AssociatedData(workerId, envelope.DirectionMetrics))
			if err != nil {
				log.Printf("Failed to seal report: %v", err)
				continue
			}

			env := envelope.Envelope{
				RequestId: workerId, // worker id rides in the correlation slot
				Direction: envelope.DirectionMetrics,
				Payload:   sealed,
			}
			data, _ := env.Encode()

			if _, err := js.Publish(ctx, prefix+".control.metrics", data); err != nil {
				log.Printf("Failed to publish report: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
