package main

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// A history replay adds up to this many marker lines (header, empty
// marker, footer) around the replayed messages.
const replayMarkerLines = 3

type Config struct {
	Host                 string        `env:"HOST,default=localhost" validate:"required"`
	ControlPort          int           `env:"CONTROL_PORT,default=4711" validate:"gt=0,lte=65535"`
	DataPort             int           `env:"DATA_PORT,default=4712" validate:"gt=0,lte=65535"`
	MetricsPort          int           `env:"METRICS_PORT,default=9090" validate:"gt=0,lte=65535"`
	NumberOfWorkers      int           `env:"NUMBER_OF_WORKERS,default=0" validate:"gte=0"`
	BufferSize           int           `env:"BUFFER_SIZE,default=256" validate:"gt=0"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64" validate:"gt=0"`
	LimitMessages        int           `env:"LIMIT_MESSAGES,default=50" validate:"gt=0"`
	ReadTimeout          time.Duration `env:"READ_TIMEOUT,default=0s"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=200ms" validate:"gt=0"`
	ReaperInterval       time.Duration `env:"REAPER_INTERVAL,default=30s" validate:"gt=0"`
	TransferTTL          time.Duration `env:"TRANSFER_TTL,default=2m" validate:"gt=0"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL,default=5s" validate:"gt=0"`
	LogLevel             string        `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR"`
}

// Validate applies the struct tags plus the one cross-field rule the
// tags cannot express: a full history replay must fit the per-connection
// outbound queue, otherwise the replay could drop lines a joiner is
// guaranteed to see.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.LimitMessages+replayMarkerLines > c.ConnectionBufferSize {
		return fmt.Errorf("LIMIT_MESSAGES %d plus %d replay markers exceeds CONNECTION_BUFFER_SIZE %d",
			c.LimitMessages, replayMarkerLines, c.ConnectionBufferSize)
	}
	return nil
}
