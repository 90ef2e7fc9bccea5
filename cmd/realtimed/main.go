package main

import (
	"log"

	"github.com/adimov-eth/vibecheck-sub001/internal/realtime/app"
)

func main() {
	cfg := app.LoadConfig()

	application, err := app.New(cfg, &app.FileTokenProvider{Path: cfg.TokenFile})
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
