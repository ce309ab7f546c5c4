package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/roffe/canhw/cmd/canctl/cmd"
	// Register drivers
	_ "github.com/roffe/canhw/pkg/slcan"
	_ "github.com/roffe/canhw/pkg/socketcan"
	_ "github.com/roffe/canhw/pkg/ucan"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, os.Interrupt)
	go func() {
		s := <-quitChan
		log.Info().Str("signal", s.String()).Msg("exiting")
		cancel()
		// Failsafe if a driver call hangs on shutdown
		<-time.After(15 * time.Second)
		log.Fatal().Msg("took too long to shut down, forcefully exiting")
	}()
	if err := cmd.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
