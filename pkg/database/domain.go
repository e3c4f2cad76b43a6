package database

import (
	"time"
)

// Connection definition sql / amqp setting
type Connection struct {
	ConnectStr string

	RetryCount    int
	RetryInterval time.Duration
}

// RedisConnection definition redis, sentinel failover is used when MasterName is set
type RedisConnection struct {
	Addr          string
	MasterName    string
	SentinelAddrs []string
	Password      string
	DB            int

	RetryCount    int
	RetryInterval time.Duration
}

// MinIOConnection definition minio
type MinIOConnection struct {
	Endpoint   string
	User       string
	Password   string
	BucketName string
	UseSSL     bool

	RetryCount    int
	RetryInterval time.Duration
}

// KafkaConnection definition kafka
type KafkaConnection struct {
	Brokers       []string
	Topic         string
	RetryCount    int
	RetryInterval time.Duration
}

func attempts(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
