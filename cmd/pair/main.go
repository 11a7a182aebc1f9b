// Command pair links a gateway instance to a phone from the terminal: it
// prints the pairing QR code and waits until the instance reports "open".
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/whatsapp-helpdesk/internal/config"
	"github.com/spec-kit/whatsapp-helpdesk/internal/gateway"
	"github.com/spec-kit/whatsapp-helpdesk/internal/observability"
)

func main() {
	instance := flag.String("instance", "", "gateway instance name")
	timeout := flag.Duration("timeout", 2*time.Minute, "how long to wait for the phone to pair")
	interval := flag.Duration("interval", 3*time.Second, "connection state polling interval")
	flag.Parse()

	if strings.TrimSpace(*instance) == "" {
		fmt.Fprintln(os.Stderr, "usage: pair -instance <name> [-timeout 2m]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	client := gateway.NewClient(cfg.Gateway, logger)
	if err := pair(ctx, client, *instance, *interval); err != nil {
		logger.Error("pairing failed", zap.String("instance", *instance), zap.Error(err))
		os.Exit(1)
	}
	fmt.Printf("instance %s is connected\n", *instance)
}

func pair(ctx context.Context, client gateway.Gateway, instance string, interval time.Duration) error {
	resp, err := client.Connect(ctx, instance)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	material := resp.Pairing()
	switch {
	case material.Code != "":
		fmt.Println("Scan with WhatsApp > Linked devices:")
		qrterminal.GenerateHalfBlock(material.Code, qrterminal.L, os.Stdout)
	case material.PairingCode != "":
		fmt.Printf("Enter pairing code on the phone: %s\n", material.PairingCode)
	default:
		fmt.Println("gateway returned no pairing material; the instance may already be connected")
	}
	if material.PairingCode != "" && material.Code != "" {
		fmt.Printf("or enter pairing code: %s\n", material.PairingCode)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		state, err := client.ConnectionState(ctx, instance)
		if err == nil && strings.EqualFold(state.Instance.State, "open") {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
