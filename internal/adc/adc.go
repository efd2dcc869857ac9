// Package adc delivers raw conversions from the sampling front-end to the
// router. The front-end is a small MCU that converts the three channels in a
// fixed order and streams the results over a serial line.
package adc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sweeney/pv-router/internal/router"
)

// Conversion is one completed ADC conversion, tagged with its channel.
type Conversion struct {
	Channel router.Channel
	Value   int16
}

// Source produces conversions in acquisition order.
type Source interface {
	// Read blocks until the next conversion is available. io.EOF ends the stream.
	Read() (Conversion, error)
	Close() error
}

// Sink consumes conversions. router.Sampler implements it.
type Sink interface {
	Resync(ch router.Channel)
	OnConversion(raw int16)
}

// Pump feeds every conversion from src to sink until ctx is cancelled or the
// stream ends. It is the fast path: nothing here blocks on the control loop.
func Pump(ctx context.Context, src Source, sink Sink) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		c, err := src.Read()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("adc read: %w", err)
		}
		sink.Resync(c.Channel)
		sink.OnConversion(c.Value)
	}
}

var _ Sink = (*router.Sampler)(nil)
