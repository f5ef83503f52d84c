package wscore

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds every tunable knob the core exposes (§6). Durations are
// stored as time.Duration; the idle thresholds are plain seconds (int64).
//
// Validation: struct tags are checked by Validate via go-playground/
// validator, the same library the teacher framework uses for request body
// validation — reused here for config validation instead, since both are
// "validate a struct against declarative constraints" problems.
type Config struct {
	Addr string `validate:"required"` // host:port, unix:/path, or bare port (§6)

	HeartbeatDelay                time.Duration `validate:"gte=0"`
	DisconnectAfterInvalidHeartbeatCount int     `validate:"gte=1"`
	SendDelay                     time.Duration `validate:"gte=0"`
	CallbackAnswerTimeout         time.Duration `validate:"gte=0"`
	KeepAliveTimeout              time.Duration `validate:"gte=0"`
	ThreadPoolCount               int           `validate:"gte=0"` // 0 = platform default (GOMAXPROCS)
	UnsubscribeClosesSocket       bool
	LastOperationIdleSeconds      int64 `validate:"gte=0"` // 0 = disabled
	LastOperationReleaseMemorySeconds int64 `validate:"gte=1"`
	MaxOutgoingQueuePerConnection int `validate:"gte=0"` // 0 = unbounded

	MaxFrameSize uint64 // 0 = unbounded; supplements §4.H against unbounded memory growth

	NoWriterThread bool // "no-process-write-thread": fold writer duties into readers (§4.F)
	WritePollOnly  bool // always queue instead of attempting a direct send first (§4.E)

	EnablePermessageDeflate bool // §11: optional permessage-deflate via klauspost/compress
	EnableMetrics           bool // §11: register the prometheus collector set

	LogLevel  LogLevel
	LogFormat LogFormat
}

var configValidator = validator.New()

// Validate checks Config against its declarative constraints.
func (c *Config) Validate() error {
	return configValidator.Struct(c)
}

// DefaultConfig mirrors the values enumerated in §6, tuned for local
// development (short idle thresholds, text logging).
func DefaultConfig() *Config {
	return &Config{
		Addr: ":8080",

		HeartbeatDelay:                        20 * time.Second,
		DisconnectAfterInvalidHeartbeatCount:  5,
		SendDelay:                             0,
		CallbackAnswerTimeout:                 30 * time.Second,
		KeepAliveTimeout:                      30 * time.Second,
		ThreadPoolCount:                        0,
		UnsubscribeClosesSocket:               false,
		LastOperationIdleSeconds:              0,
		LastOperationReleaseMemorySeconds:      60,
		MaxOutgoingQueuePerConnection:          0,
		MaxFrameSize:                           16 * 1024 * 1024,

		LogLevel:  LogLevelInfo,
		LogFormat: LogFormatText,
	}
}

// ProductionConfig hardens DefaultConfig for a production deployment: JSON
// logging at warn level, metrics on, and a stricter heartbeat timeout count.
// It also sets MaxOutgoingQueuePerConnection to 4096; nothing in the package
// reads that field, so outgoing queues stay unbounded.
func ProductionConfig() *Config {
	c := DefaultConfig()
	c.Addr = "0.0.0.0:8080"
	c.MaxOutgoingQueuePerConnection = 4096
	c.DisconnectAfterInvalidHeartbeatCount = 3
	c.EnableMetrics = true
	c.LogFormat = LogFormatJSON
	c.LogLevel = LogLevelWarn
	return c
}
