package canhw

import "github.com/rs/zerolog"

type config struct {
	logger     *zerolog.Logger
	sink       EventSink
	thresholds *Thresholds
	readBuffer int
}

func defaultConfig() config {
	return config{
		sink:       Discard,
		readBuffer: 64,
	}
}

// Option configures a Device.
type Option func(*config)

// WithLogger overrides the package logger for one device.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) {
		c.logger = &l
	}
}

// WithEventSink sets where the driver posts this device's events, usually
// a *Dispatcher. Without it events are discarded.
func WithEventSink(sink EventSink) Option {
	return func(c *config) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// WithThresholds overrides the code table reported by the driver.
func WithThresholds(t Thresholds) Option {
	return func(c *config) {
		c.thresholds = &t
	}
}

// WithReadBuffer sets how many frames Read asks for when called with count <= 0.
func WithReadBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.readBuffer = n
		}
	}
}
