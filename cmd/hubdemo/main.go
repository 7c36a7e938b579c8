// Command hubdemo is a minimal end-to-end exercise of the library: it
// loads a channel config, runs one producer goroutine and one consumer
// goroutine against the same channel, and logs what each side sees.
// It plays the same role the teacher's exchange feeder played —
// config-driven, context-cancelled, multiple concurrent participants —
// but against pylabhub channels instead of exchange websockets.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/pylabhub/hub/config"
	"github.com/pylabhub/hub/hub"
)

func main() {
	cfgPath := pflag.String("config", "pylabhub.toml", "path to channel config TOML")
	channelName := pflag.String("channel", "demo", "name of the channel to declare and run")
	pflag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "hubdemo: "+err.Error())
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(*cfgPath, *channelName, log); err != nil {
		log.Fatal("hubdemo failed", zap.Error(err))
	}
}

func run(cfgPath, channelName string, log *zap.Logger) error {
	var spec config.ChannelSpec
	var tun hub.Tunables

	if cfg, err := config.Load(cfgPath); err == nil {
		var ok bool
		spec, ok = cfg.Channel(channelName)
		if !ok {
			spec = config.ChannelSpec{Name: channelName, SlotCount: 16, SlotSize: 64}
		}
		tun = cfg.Tunables.HubTunables()
	} else {
		log.Warn("config load failed, using built-in defaults", zap.Error(err))
		spec = config.ChannelSpec{Name: channelName, SlotCount: 16, SlotSize: 64}
		tun = hub.DefaultTunables
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	p, err := hub.CreateProducer(spec.Name, spec.ChannelConfig(), tun, hub.WithLogger(log))
	if err != nil {
		return fmt.Errorf("create producer: %w", err)
	}
	defer p.Destroy()
	log.Info("producer created", zap.String("channel", spec.Name), zap.Uint64("secret", p.Secret()))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		var n byte
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				err := p.WithWriteSlot(func(w *hub.WriteHandle) error {
					for i := range w.Payload() {
						w.Payload()[i] = n
					}
					return nil
				})
				if err != nil {
					return fmt.Errorf("produce: %w", err)
				}
				n++
			}
		}
	})

	g.Go(func() error {
		c, err := hub.FindConsumer(spec.Name, p.Secret(), hub.ExpectedSchema{}, spec.ChannelConfig(), tun, hub.WithLogger(log))
		if err != nil {
			return fmt.Errorf("attach consumer: %w", err)
		}
		defer c.Close()
		for {
			if gctx.Err() != nil {
				return nil
			}
			rh, err := c.AcquireLatest(200)
			if err != nil {
				continue
			}
			if err := c.Validate(rh); err != nil {
				log.Warn("validation failed", zap.Error(err))
			} else {
				log.Info("consumed", zap.Uint64("slot", rh.SlotID), zap.Int("bytes", len(rh.Payload)))
			}
			rh.Release()
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("hubdemo stopped")
	return nil
}
