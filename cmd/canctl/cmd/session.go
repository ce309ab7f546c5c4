package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/canhw"
	"github.com/roffe/canhw/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// settings resolves the configuration file, if any, and lets explicitly
// set flags override it.
func settings(cmd *cobra.Command) (*config.Config, error) {
	f := cmd.Flags()
	var (
		cfg *config.Config
		err error
	)
	if path, _ := f.GetString(flagConfig); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.Parse("")
	}
	if err != nil {
		return nil, err
	}
	if f.Changed(flagDriver) || cfg.Driver == "" {
		cfg.Driver, _ = f.GetString(flagDriver)
	}
	switch {
	case f.Changed(flagSerial):
		sn, _ := f.GetUint32(flagSerial)
		cfg.Selector = canhw.BySerial(sn)
	case f.Changed(flagIndex):
		n, _ := f.GetInt(flagIndex)
		cfg.Selector = canhw.ByIndex(n)
	}
	if f.Changed(flagPort) {
		cfg.DriverConfig.Port, _ = f.GetString(flagPort)
	}
	if f.Changed(flagBaudrate) || cfg.DriverConfig.PortBaudrate == 0 {
		cfg.DriverConfig.PortBaudrate, _ = f.GetInt(flagBaudrate)
	}
	if f.Changed(flagLibrary) {
		cfg.DriverConfig.Library, _ = f.GetString(flagLibrary)
	}
	if debug, _ := f.GetBool(flagDebug); debug {
		cfg.DriverConfig.Debug = true
	}
	return cfg, nil
}

type session struct {
	cfg  *config.Config
	dev  *canhw.Device
	disp *canhw.Dispatcher
	log  zerolog.Logger
}

// openSession creates the configured driver, opens the hardware with
// retries on driver tier failures and, when channels is set, every
// configured channel. Driver events go to a dispatcher running hooks; the
// caller runs it.
func openSession(ctx context.Context, cmd *cobra.Command, hooks canhw.Hooks, channels bool) (*session, error) {
	cfg, err := settings(cmd)
	if err != nil {
		return nil, err
	}
	drv, err := canhw.NewDriver(cfg.Driver, &cfg.DriverConfig)
	if err != nil {
		return nil, err
	}
	disp := canhw.NewDispatcher(hooks, 0)
	s := &session{
		cfg:  cfg,
		disp: disp,
		dev:  canhw.NewDevice(drv, canhw.WithEventSink(disp), canhw.WithLogger(log.Logger)),
		log:  log.With().Str("driver", cfg.Driver).Logger(),
	}

	err = retry.Do(func() error {
		return s.dev.OpenHardware(cfg.Selector)
	},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, canhw.ErrDriverTier)
		}),
		retry.OnRetry(func(n uint, err error) {
			s.log.Warn().Uint("attempt", n+1).Err(err).Msg("open hardware failed, retrying")
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		disp.Close()
		return nil, fmt.Errorf("open %s: %w", cfg.Selector, err)
	}
	s.log.Debug().Str("selector", cfg.Selector.String()).Msg("hardware open")
	if !channels {
		return s, nil
	}
	for _, c := range cfg.Channels {
		if err := s.dev.OpenChannel(c.Channel, c.Config); err != nil {
			s.close()
			return nil, fmt.Errorf("open %s: %w", c.Channel, err)
		}
	}
	return s, nil
}

// channel returns the --channel flag, or the first configured channel.
func (s *session) channel(cmd *cobra.Command) canhw.Channel {
	if f := cmd.Flags().Lookup(flagChannel); f != nil && f.Changed {
		n, _ := cmd.Flags().GetUint8(flagChannel)
		return canhw.Channel(n)
	}
	return s.cfg.Channels[0].Channel
}

func (s *session) channels() []canhw.Channel {
	out := make([]canhw.Channel, len(s.cfg.Channels))
	for i, c := range s.cfg.Channels {
		out[i] = c.Channel
	}
	return out
}

func (s *session) close() {
	if err := s.dev.CloseHardware(true); err != nil && !errors.Is(err, canhw.ErrClosed) {
		s.log.Error().Err(err).Msg("close hardware")
	}
	s.disp.Close()
}

// optional turns ErrNotSupported into a log line so a report can carry on
// with the operations the driver does have.
func (s *session) optional(what string, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, canhw.ErrNotSupported) {
		s.log.Debug().Str("op", what).Msg("not supported by driver")
	} else {
		s.log.Error().Err(err).Str("op", what).Msg("failed")
	}
	return false
}
