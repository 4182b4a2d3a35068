package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/pricealert/internal/flagx"
)

var knownFlags = []string{
	"-a", "-m", "-d", "-s", "-t", "-q", "-k", "-G", "-P", "-i", "-o",
	"-D", "-u", "-p", "-b", "-g", "-e", "-x", "-r", "-l",
}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC health bind address (e.g. ":50051")
//	-m string   metrics bind address ("" disables)
//	-d string   PostgreSQL DSN
//	-s string   store backend: postgres | memory
//	-t string   queue backend: kafka | pebble | memory
//	-q string   queue name
//	-k string   comma separated Kafka brokers
//	-G string   Kafka consumer group
//	-P string   pebble data directory
//	-i int      poll interval, milliseconds
//	-o int      poll timeout, milliseconds
//	-D string   dead letter backend: log | s3
//	-u/-p/-b/-g/-e/-x string  S3 user, password, bucket, region, endpoint, key prefix
//	-r int      delivery retry budget, milliseconds
//	-l string   log level
//
// Only the flags above are looked at; -c/-config is handled by parseJson.
// Unparseable values panic.
func parseFlags(config *Config, args []string) {
	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port of the gRPC health endpoint")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "address and port of the metrics endpoint")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.StoreBackend, "s", config.StoreBackend, "store backend")
	fs.StringVar(&config.QueueBackend, "t", config.QueueBackend, "queue backend")
	fs.StringVar(&config.QueueName, "q", config.QueueName, "queue name")

	brokers := flagx.StringList(config.KafkaBrokers)
	fs.Var(&brokers, "k", "kafka brokers")

	fs.StringVar(&config.KafkaGroupID, "G", config.KafkaGroupID, "kafka consumer group")
	fs.StringVar(&config.PebbleDir, "P", config.PebbleDir, "pebble data directory")

	pollInterval := fs.Int("i", int(config.PollInterval.Milliseconds()), "poll interval (in milliseconds)")
	pollTimeout := fs.Int("o", int(config.PollTimeout.Milliseconds()), "poll timeout (in milliseconds)")

	fs.StringVar(&config.DeadLetterBackend, "D", config.DeadLetterBackend, "dead letter backend")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3Prefix, "x", config.S3Prefix, "S3 key prefix")

	deliveryMaxElapsed := fs.Int("r", int(config.DeliveryMaxElapsed.Milliseconds()), "delivery retry budget (in milliseconds)")

	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(flagx.FilterArgs(args, knownFlags)); err != nil {
		panic(err)
	}

	config.KafkaBrokers = []string(brokers)
	config.PollInterval = time.Duration(*pollInterval) * time.Millisecond
	config.PollTimeout = time.Duration(*pollTimeout) * time.Millisecond
	config.DeliveryMaxElapsed = time.Duration(*deliveryMaxElapsed) * time.Millisecond
}
