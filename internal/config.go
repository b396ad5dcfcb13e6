package internal

import (
	"fmt"
	"time"
)

type Config struct {
	Host string `env:"HOST,default=0.0.0.0"`
	Port int    `env:"PORT,default=8080"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,required=true"`
	LogLevel       string `env:"LOG_LEVEL,default=INFO"`
	DebugPort      int    `env:"DEBUG_PORT,default=8081"`

	JWTSecret string `env:"JWT_SECRET,required=true"`
	JWTIssuer string `env:"JWT_ISSUER,default=chat-hub"`

	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=256"`
	BufferSize           int           `env:"BUFFER_SIZE,default=1024"`
	DeliveryTimeout      time.Duration `env:"DELIVERY_TIMEOUT,default=5s"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=2s"`
	TypingTTL            time.Duration `env:"TYPING_TTL,default=5s"`
	OnlineWindow         time.Duration `env:"ONLINE_WINDOW,default=60s"`
	SweepInterval        time.Duration `env:"SWEEP_INTERVAL,default=1s"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=10s"`

	DefaultPageLimit int `env:"DEFAULT_PAGE_LIMIT,default=50"`
	MaxPageLimit     int `env:"MAX_PAGE_LIMIT,default=500"`
	MaxContentLength int `env:"MAX_CONTENT_LENGTH,default=4096"`

	InboundRate   float64       `env:"INBOUND_RATE,default=20"`
	InboundBurst  int           `env:"INBOUND_BURST,default=40"`
	PongWait      time.Duration `env:"PONG_WAIT,default=60s"`
	PingPeriod    time.Duration `env:"PING_PERIOD,default=54s"`
	WriteWait     time.Duration `env:"WRITE_WAIT,default=10s"`
	MaxFrameSize  int64         `env:"MAX_FRAME_SIZE,default=65536"`

	CensoredDir     string `env:"CENSORED_DIR"`
	CharReplacement string `env:"CHARACTER_REPLACEMENT,default=*"`

	NatsURL           string `env:"NATS_URL"`
	NatsStream        string `env:"NATS_STREAM,default=CHAT_EVENTS"`
	NatsSubjectPrefix string `env:"NATS_SUBJECT_PREFIX,default=chat"`
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
