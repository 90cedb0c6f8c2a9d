// Command shmrecord-reader is a demo consumer for package shmrecord: it
// opens the regions named in its config (waiting until shmrecord-writer
// has created each one) and logs each record it consumes, the way
// the teacher's feeder binaries log connection and tick events.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/AlephTX/shmrecord"
	"github.com/AlephTX/shmrecord/config"
	"github.com/AlephTX/shmrecord/region"
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

func waitForRegion(ctx context.Context, name string, fields []schema.Field, opts shmrecord.Options) (*shmrecord.Handle, error) {
	for {
		h, err := shmrecord.Open(fields, opts)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, region.ErrNotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
			log.Printf("region %q: waiting for writer...", name)
		}
	}
}

func runRegion(ctx context.Context, name string, cfg config.RegionConfig) error {
	opts := shmrecord.Options{Name: name, Slots: cfg.Slots}
	h, err := waitForRegion(ctx, name, telemetrySchema(), opts)
	if err != nil {
		return err
	}
	defer h.Close()

	log.Printf("🔌 region %q: opened (slots=%d, ring=%t)", name, h.Slots(), h.IsRing())

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		rec, ok, err := h.Consume(shmrecord.ConsumeOptions{Timeout: 500 * time.Millisecond})
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		seq, _ := rec.Fields["sequence"].Int32()
		value, _ := rec.Fields["value"].Float64()
		label, _ := rec.Fields["label"].StringValue()
		log.Printf("region %q: seq=%d value=%.4f label=%q", name, seq, value, label)
	}
}

func main() {
	cfgPath := pflag.StringP("config", "c", "config.toml", "path to config.toml")
	pflag.Parse()

	log.Println("🐙 shmrecord-reader starting...")

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

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("reader: %v", err)
	}
	log.Println("👋 shmrecord-reader stopped.")
}
