package config

import "time"

// TranscodeService definition transcode_service YAML structure
type TranscodeService struct {
	Port     string `mapstructure:"port"`
	IP       string `mapstructure:"ip"`
	WorkerID string `mapstructure:"worker_id"`

	Concurrency       int           `mapstructure:"concurrency"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`

	Encoder   EncoderConfig   `mapstructure:"encoder"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Qualities []QualityConfig `mapstructure:"qualities"`

	Redis      RedisConfig    `mapstructure:"redis"`
	RabbitMQ   RabbitMQConfig `mapstructure:"rabbitmq"`
	Kafka      KafkaConfig    `mapstructure:"kafka"`
	MinIO      MinIOConfig    `mapstructure:"minio"`
	PostgreSQL DatabaseConfig `mapstructure:"pg"`
}

// EncoderConfig definition ffmpeg setting
type EncoderConfig struct {
	FFmpegPath       string        `mapstructure:"ffmpeg_path"`
	FFprobePath      string        `mapstructure:"ffprobe_path"`
	SegmentDuration  int           `mapstructure:"segment_duration"`
	GOPSize          int           `mapstructure:"gop_size"`
	AudioBitrate     int           `mapstructure:"audio_bitrate"`
	Preset           string        `mapstructure:"preset"`
	Timeout          time.Duration `mapstructure:"timeout"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

// PolicyConfig definition quality and retry policy knobs
type PolicyConfig struct {
	UpscaleTolerance float64                `mapstructure:"upscale_tolerance"`
	HistorySize      int                    `mapstructure:"history_size"`
	StatusTTL        time.Duration          `mapstructure:"status_ttl"`
	LeaseTTL         time.Duration          `mapstructure:"lease_ttl"`
	LeaseRetryDelay  time.Duration          `mapstructure:"lease_retry_delay"`
	Retry            map[string]RetryConfig `mapstructure:"retry"`
}

// RetryConfig definition retry override for one error class
type RetryConfig struct {
	// MaxRetries nil keeps the built-in budget
	MaxRetries *int          `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
}

// HeartbeatConfig definition worker liveness setting
type HeartbeatConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Threshold time.Duration `mapstructure:"threshold"`
}

// QualityConfig definition one catalog entry
type QualityConfig struct {
	Name    string `mapstructure:"name"`
	Width   int    `mapstructure:"width"`
	Height  int    `mapstructure:"height"`
	Bitrate int    `mapstructure:"bitrate"`
	FPS     int    `mapstructure:"fps"`
}

// RedisConfig definition redis setting, sentinel is used when MasterName is set
type RedisConfig struct {
	Addr          string   `mapstructure:"addr"`
	MasterName    string   `mapstructure:"master_name"`
	SentinelAddrs []string `mapstructure:"sentinel_addrs"`
	Password      string   `mapstructure:"password"`
	RedisDB       int      `mapstructure:"redis_db"`
	RetryCount    int      `mapstructure:"retry_count"`
	RetryInterval int      `mapstructure:"retry_interval"`
}

// RabbitMQConfig definition rabbitmq setting
type RabbitMQConfig struct {
	IP              string        `mapstructure:"ip"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Queue           string        `mapstructure:"queue"`
	ConsumerTimeout time.Duration `mapstructure:"consumer_timeout"`
	RetryCount      int           `mapstructure:"retry_count"`
	RetryInterval   int           `mapstructure:"retry_interval"`
}

// KafkaConfig definition kafka setting
type KafkaConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	RetryCount    int      `mapstructure:"retry_count"`
	RetryInterval int      `mapstructure:"retry_interval"`
}

// MinIOConfig definition minio setting
type MinIOConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	BucketName    string `mapstructure:"bucket_name"`
	Prefix        string `mapstructure:"prefix"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	RetryCount    int    `mapstructure:"retry_count"`
	RetryInterval int    `mapstructure:"retry_interval"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// ApplyDefaults fill every unset knob with its default
func (c *TranscodeService) ApplyDefaults() {
	if c.Port == "" {
		c.Port = "8085"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 5 * time.Second
	}

	e := &c.Encoder
	if e.FFmpegPath == "" {
		e.FFmpegPath = "ffmpeg"
	}
	if e.FFprobePath == "" {
		e.FFprobePath = "ffprobe"
	}
	if e.SegmentDuration <= 0 {
		e.SegmentDuration = 4
	}
	if e.GOPSize <= 0 {
		e.GOPSize = 48
	}
	if e.AudioBitrate <= 0 {
		e.AudioBitrate = 128
	}
	if e.Preset == "" {
		e.Preset = "veryfast"
	}
	if e.Timeout <= 0 {
		e.Timeout = 2 * time.Hour
	}
	if e.ProgressInterval <= 0 {
		e.ProgressInterval = time.Second
	}

	p := &c.Policy
	if p.UpscaleTolerance <= 0 {
		p.UpscaleTolerance = 0.8
	}
	if p.HistorySize <= 0 {
		p.HistorySize = 50
	}
	if p.StatusTTL <= 0 {
		p.StatusTTL = 7 * 24 * time.Hour
	}
	if p.LeaseTTL <= 0 {
		p.LeaseTTL = 2 * time.Minute
	}
	if p.LeaseRetryDelay <= 0 {
		p.LeaseRetryDelay = 10 * time.Second
	}

	h := &c.Heartbeat
	if h.Interval <= 0 {
		h.Interval = 15 * time.Second
	}
	if h.Threshold <= 0 {
		h.Threshold = 3 * h.Interval
	}

	if c.RabbitMQ.Queue == "" {
		c.RabbitMQ.Queue = "transcode"
	}
	if c.RabbitMQ.ConsumerTimeout <= 0 {
		c.RabbitMQ.ConsumerTimeout = 3 * time.Hour
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "transcode-events"
	}
	if c.MinIO.Prefix == "" {
		c.MinIO.Prefix = "processed"
	}
}
