// Command shmrecord-writer is a single-writer demo for package
// shmrecord: for every enabled region in its config it creates a fixed
// telemetry schema (sequence, value, label, samples) and publishes a
// random-walk value on a timer, the way the teacher's mock exchange
// feeder drives synthetic BBO data.
package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/AlephTX/shmrecord"
	"github.com/AlephTX/shmrecord/config"
	"github.com/AlephTX/shmrecord/schema"
)

func telemetrySchema() []schema.Field {
	return []schema.Field{
		schema.Scalar("sequence", schema.ScalarI32),
		schema.Scalar("value", schema.ScalarF64),
		schema.String("label", 32),
		schema.Array("samples", schema.ElemF32, 8),
	}
}

func runRegion(ctx context.Context, name string, cfg config.RegionConfig) error {
	h, err := shmrecord.Create(telemetrySchema(), shmrecord.Options{Name: name, Slots: cfg.Slots})
	if err != nil {
		return err
	}
	defer h.Close()
	defer h.Unlink()

	log.Printf("📡 region %q: /dev/shm/%s (slots=%d)", name, h.Name(), h.Slots())

	ticker := time.NewTicker(cfg.Interval())
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	value := 100.0
	var seq int32
	samples := make([]float32, 8)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			seq++
			value += value * (rng.Float64() - 0.5) * 0.01
			for i := range samples {
				samples[i] = float32(value + rng.Float64())
			}

			updates := map[string]any{
				"sequence": seq,
				"value":    value,
				"label":    name,
				"samples":  samples,
			}
			if err := h.Publish(updates); err != nil {
				log.Printf("region %q: publish: %v", name, err)
				continue
			}
			if h.IsRing() {
				if err := h.Finalize(); err != nil {
					log.Printf("region %q: finalize: %v", name, err)
				}
			}
		}
	}
}

func main() {
	cfgPath := pflag.StringP("config", "c", "config.toml", "path to config.toml")
	pflag.Parse()

	log.Println("🐙 shmrecord-writer starting...")

	if err := config.EnsureDefault(*cfgPath); err != nil {
		log.Fatalf("config: ensure default: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for name, regionCfg := range cfg.Regions {
		if !regionCfg.Enabled {
			continue
		}
		name, regionCfg := name, regionCfg
		g.Go(func() error {
			return runRegion(gctx, name, regionCfg)
		})
	}

	if err := g.Wait(); err != nil {
		log.Printf("writer: %v", err)
	}
	log.Println("👋 shmrecord-writer stopped.")
}
