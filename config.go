package xlink

import (
	"log"
	"time"

	"github.com/pkg/errors"

	"github.com/luxonis/xlink/internal/dispatch"
)

// Config carries the process-wide tunables Initialize accepts, mirroring
// the shape of smux.Config/smux.DefaultConfig/smux.VerifyConfig kcptun
// calls before every dial (client/main.go).
type Config struct {
	// MaxStreams bounds each link's StreamTable (spec §3: "capacity >= 32").
	MaxStreams int
	// AlignChunk is the WireCodec bounce-buffer chunk size; 0 disables
	// bounce-buffer stitching (spec §4.1, §9).
	AlignChunk int
	// PingTimeout bounds WaitForPing's server-side startup handshake.
	PingTimeout time.Duration
	// Logger receives connection lifecycle and protocol-error messages;
	// nil defaults to log.Default(), matching kcptun's default logger use
	// before a -log flag redirects output.
	Logger *log.Logger
}

// DefaultConfig returns sane defaults, the same role smux.DefaultConfig
// plays for kcptun.
func DefaultConfig() *Config {
	dc := dispatch.DefaultConfig()
	return &Config{
		MaxStreams:  dc.MaxStreams,
		AlignChunk:  dc.AlignChunk,
		PingTimeout: dc.PingTimeout,
	}
}

// VerifyConfig rejects a Config that would make the dispatcher misbehave,
// the same role smux.VerifyConfig plays before kcptun dials.
func VerifyConfig(c *Config) error {
	if c == nil {
		return errors.New("xlink: nil config")
	}
	return dispatch.VerifyConfig(&dispatch.Config{
		MaxStreams:  c.MaxStreams,
		AlignChunk:  c.AlignChunk,
		PingTimeout: c.PingTimeout,
	})
}

func (c *Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func (c *Config) dispatchConfig() *dispatch.Config {
	return &dispatch.Config{
		MaxStreams:  c.MaxStreams,
		AlignChunk:  c.AlignChunk,
		PingTimeout: c.PingTimeout,
	}
}
