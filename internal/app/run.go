// Package app wires a complete headless client: relay connection, media
// engine, session-manager client, config watcher and shutdown.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/petervdpas/relaymesh/internal/client"
	"github.com/petervdpas/relaymesh/internal/config"
	"github.com/petervdpas/relaymesh/internal/engine"
	"github.com/petervdpas/relaymesh/internal/relay"
)

// Options configure one client run.
type Options struct {
	CfgPath string
	Cfg     config.Config

	// CallTarget, when set, places a call immediately after connecting.
	CallTarget string

	// CreateRoom / JoinRoom, when set, enter a room after connecting.
	CreateRoom string
	JoinRoom   string

	// AutoAccept answers incoming calls without asking. Headless runs
	// have nobody to ask.
	AutoAccept bool
}

// Run connects and serves until ctx is cancelled or the relay fails.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg
	logBanner(cfg)

	rel, err := relay.DialStomp(ctx, cfg.Relay.URL)
	if err != nil {
		// Transport failure is fatal for the session; no reconnect here.
		return fmt.Errorf("app: %w", err)
	}
	relayFailed := make(chan error, 1)
	rel.ErrFn = func(err error) {
		select {
		case relayFailed <- err:
		default:
		}
	}

	eng := engine.NewPion(cfg.Media.ICEServers)

	cli, err := client.New(client.Options{
		SelfID:        cfg.Identity.UserID,
		Relay:         rel,
		Engine:        eng,
		RejectDelay:   millis(cfg.Call.RejectDisplayMs),
		OfferDebounce: millis(cfg.Room.OfferDebounceMs),
	})
	if err != nil {
		rel.Close()
		return fmt.Errorf("app: %w", err)
	}
	defer cli.Close()

	cli.Calls().OnIncoming(func(from string) {
		if !opt.AutoAccept {
			log.Printf("APP: incoming call from %s (no UI attached, ignoring)", from)
			return
		}
		log.Printf("APP: incoming call from %s, accepting", from)
		if err := cli.Calls().Accept(); err != nil {
			log.Printf("APP: accept: %v", err)
		}
	})

	if err := cli.Announce(); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	// Live ICE server updates from the config file.
	if opt.CfgPath != "" {
		stop, err := config.Watch(opt.CfgPath, func(fresh config.Config) {
			eng.SetICEServers(fresh.Media.ICEServers)
		})
		if err != nil {
			log.Printf("APP: config watch disabled: %v", err)
		} else {
			defer stop()
		}
	}

	switch {
	case opt.CallTarget != "":
		if err := cli.Calls().Initiate(opt.CallTarget); err != nil {
			return fmt.Errorf("app: call %s: %w", opt.CallTarget, err)
		}
	case opt.CreateRoom != "":
		if err := cli.Rooms().Create(opt.CreateRoom, cfg.Room.DefaultMaxParticipants); err != nil {
			return fmt.Errorf("app: create room %s: %w", opt.CreateRoom, err)
		}
	case opt.JoinRoom != "":
		if err := cli.Rooms().Join(opt.JoinRoom); err != nil {
			return fmt.Errorf("app: join room %s: %w", opt.JoinRoom, err)
		}
	}

	select {
	case <-ctx.Done():
		log.Printf("APP: shutting down")
		return nil
	case err := <-relayFailed:
		return fmt.Errorf("app: %w", err)
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func logBanner(cfg config.Config) {
	log.Printf("APP: relaymesh client, user %q, relay %s", cfg.Identity.UserID, cfg.Relay.URL)
}
