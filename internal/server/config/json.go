package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/pricealert/internal/flagx"
	"github.com/dmitrijs2005/pricealert/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Only keys
// present in the file override the current values.
type JsonConfig struct {
	EndpointAddrGRPC   *string         `json:"endpoint_addr_grpc"`
	MetricsAddr        *string         `json:"metrics_addr"`
	DatabaseDSN        *string         `json:"database_dsn"`
	StoreBackend       *string         `json:"store_backend"`
	QueueBackend       *string         `json:"queue_backend"`
	QueueName          *string         `json:"queue_name"`
	KafkaBrokers       []string        `json:"kafka_brokers"`
	KafkaGroupID       *string         `json:"kafka_group_id"`
	PebbleDir          *string         `json:"pebble_dir"`
	PollInterval       *timex.Duration `json:"poll_interval"`
	PollTimeout        *timex.Duration `json:"poll_timeout"`
	DeadLetterBackend  *string         `json:"dead_letter_backend"`
	S3RootUser         *string         `json:"s3_root_user"`
	S3RootPassword     *string         `json:"s3_root_password"`
	S3Bucket           *string         `json:"s3_bucket"`
	S3Region           *string         `json:"s3_region"`
	S3BaseEndpoint     *string         `json:"s3_base_endpoint"`
	S3Prefix           *string         `json:"s3_prefix"`
	DeliveryMaxElapsed *timex.Duration `json:"delivery_max_elapsed"`
	LogLevel           *string         `json:"log_level"`
}

// parseJson overlays values from the file named by -c/-config onto config.
// Without the flag nothing happens. An unreadable or invalid file panics:
// the server must not start on a config it cannot understand.
func parseJson(config *Config, args []string) {
	path := flagx.ConfigPath(args)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.MetricsAddr, c.MetricsAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.StoreBackend, c.StoreBackend)
	setString(&config.QueueBackend, c.QueueBackend)
	setString(&config.QueueName, c.QueueName)
	if c.KafkaBrokers != nil {
		config.KafkaBrokers = c.KafkaBrokers
	}
	setString(&config.KafkaGroupID, c.KafkaGroupID)
	setString(&config.PebbleDir, c.PebbleDir)
	if c.PollInterval != nil {
		config.PollInterval = c.PollInterval.Duration
	}
	if c.PollTimeout != nil {
		config.PollTimeout = c.PollTimeout.Duration
	}
	setString(&config.DeadLetterBackend, c.DeadLetterBackend)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3Prefix, c.S3Prefix)
	if c.DeliveryMaxElapsed != nil {
		config.DeliveryMaxElapsed = c.DeliveryMaxElapsed.Duration
	}
	setString(&config.LogLevel, c.LogLevel)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
