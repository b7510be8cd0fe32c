// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/petervdpas/relaymesh/internal/app"
	"github.com/petervdpas/relaymesh/internal/config"
)

var (
	cfgPath    = flag.String("config", "relaymesh.json", "Path to the config file (created with defaults if missing)")
	userID     = flag.String("user", "", "Participant id (overrides the config file)")
	relayURL   = flag.String("relay", "", "Relay websocket URL (overrides the config file)")
	callTarget = flag.String("call", "", "Place a call to this user after connecting")
	createRoom = flag.String("create-room", "", "Create and enter this room after connecting")
	joinRoom   = flag.String("join-room", "", "Join this room after connecting")
	autoAccept = flag.Bool("auto-accept", false, "Accept incoming calls without prompting")
	version    = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("relaymesh v%s\n", appVersion)
		return
	}

	cfg, created, err := config.Ensure(*cfgPath, *userID)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if created {
		log.Printf("wrote default config to %s", *cfgPath)
	}
	if *userID != "" {
		cfg.Identity.UserID = *userID
	}
	if *relayURL != "" {
		cfg.Relay.URL = *relayURL
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v (use -user to set an identity)", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = app.Run(ctx, app.Options{
		CfgPath:    *cfgPath,
		Cfg:        cfg,
		CallTarget: *callTarget,
		CreateRoom: *createRoom,
		JoinRoom:   *joinRoom,
		AutoAccept: *autoAccept,
	})
	if err != nil {
		log.Fatal(err)
	}
}
