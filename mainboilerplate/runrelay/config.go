// Package runrelay composes docrelay components from a parsed BaseConfig.
// It's shared by the docrelay CLI and the docrelay Lambda host, which differ
// only in how they're invoked: both hold an Env for the life of the process
// and drive capture, index and pump runs through it.
package runrelay

import (
	"time"

	mbp "go.docrelay.dev/core/mainboilerplate"
	"go.docrelay.dev/core/protocol"
)

// BaseConfig is the top-level configuration object of docrelay programs.
// Every option may be set by flag, by DOCRELAY_* environment variable, or
// by INI file.
type BaseConfig struct {
	Source struct {
		URI             string `long:"uri" env:"URI" description:"Source cluster host list (eg cluster.example.com:27017), or a complete mongodb:// URI"`
		Secret          string `long:"secret" env:"SECRET" description:"Secrets Manager secret holding source {username, password}. Credentials of the URI are used if not set"`
		TLSCAFile       string `long:"tls-ca-file" env:"TLS_CA_FILE" description:"PEM bundle of certificate authorities trusted for source TLS"`
		StateDatabase   string `long:"state-db" env:"STATE_DB" default:"docrelay" description:"Source database holding the checkpoint state collection"`
		StateCollection string `long:"state-collection" env:"STATE_COLLECTION" default:"checkpoints" description:"Checkpoint state collection of the source"`
	} `group:"Source" namespace:"source" env-namespace:"DOCRELAY_SOURCE"`

	Watch struct {
		Database      string `long:"database" env:"DATABASE" description:"Watched database"`
		Collection    string `long:"collection" env:"COLLECTION" description:"Watched collection. Required unless --watch.database-level"`
		DatabaseLevel bool   `long:"database-level" env:"DATABASE_LEVEL" description:"Watch every collection of the database"`
	} `group:"Watch" namespace:"watch" env-namespace:"DOCRELAY_WATCH"`

	Capture struct {
		MaxEvents           int           `long:"max-events" env:"MAX_EVENTS" default:"1000" description:"Maximum number of change events consumed by one run"`
		EventsPerCheckpoint int           `long:"events-per-checkpoint" env:"EVENTS_PER_CHECKPOINT" default:"100" description:"Events between checkpoint flushes, when not staging"`
		CanaryPoll          time.Duration `long:"canary-poll" env:"CANARY_POLL" default:"1s" description:"Interval between polls for the bootstrap canary delete"`
		CanaryTimeout       time.Duration `long:"canary-timeout" env:"CANARY_TIMEOUT" default:"1m" description:"Bound on the wait for the bootstrap canary delete"`
	} `group:"Capture" namespace:"capture" env-namespace:"DOCRELAY_CAPTURE"`

	State struct {
		URL string `long:"url" env:"URL" description:"Checkpoint store: mongodb: (source state collection), postgres://, sqlite3://, file:/// or memory://. The source state collection is used if not set"`
	} `group:"State" namespace:"state" env-namespace:"DOCRELAY_STATE"`

	Staging struct {
		URL         string `long:"url" env:"URL" description:"Staging blob store: s3://bucket/prefix, gs://bucket/prefix, azure://container/prefix or memory://bucket. Staging is disabled if not set"`
		Compression string `long:"compression" env:"COMPRESSION" default:"none" choice:"none" choice:"gzip" choice:"snappy" choice:"zstd" description:"Compression of staged payloads"`
	} `group:"Staging" namespace:"staging" env-namespace:"DOCRELAY_STAGING"`

	Queue struct {
		URL string `long:"url" env:"URL" description:"Pointer queue: an SQS FIFO queue URL, or memory://. Relaying is disabled if not set"`
	} `group:"Queue" namespace:"queue" env-namespace:"DOCRELAY_QUEUE"`

	Alert struct {
		Topic      string `long:"topic" env:"TOPIC" description:"SNS topic ARN of failure alerts. Alerts are only logged if not set"`
		EventTopic string `long:"event-topic" env:"EVENT_TOPIC" description:"SNS topic ARN to which change events are published when not staging"`
	} `group:"Alert" namespace:"alert" env-namespace:"DOCRELAY_ALERT"`

	Index struct {
		Endpoint           string `long:"endpoint" env:"ENDPOINT" description:"OpenSearch endpoint, eg https://search.example.com"`
		Username           string `long:"username" env:"USERNAME" description:"OpenSearch basic-auth user"`
		Password           string `long:"password" env:"PASSWORD" description:"OpenSearch basic-auth password"`
		InsecureSkipVerify bool   `long:"insecure-skip-verify" env:"INSECURE_SKIP_VERIFY" description:"Skip verification of the OpenSearch certificate"`
		MaxMessages        int    `long:"max-messages" env:"MAX_MESSAGES" default:"100" description:"Maximum number of queue messages handled by one index run"`
		CacheSize          int    `long:"cache-size" env:"CACHE_SIZE" default:"4096" description:"Number of applied payload versions remembered, to skip redelivered messages"`
	} `group:"Index" namespace:"index" env-namespace:"DOCRELAY_INDEX"`

	Pump struct {
		Function string        `long:"function" env:"FUNCTION" description:"Name or ARN of the function to re-invoke"`
		Mode     string        `long:"mode" env:"MODE" default:"RequestResponse" choice:"RequestResponse" choice:"Event" choice:"DryRun" description:"Invocation mode"`
		Window   time.Duration `long:"window" env:"WINDOW" default:"1m" description:"Duration of one pump run"`
		Interval time.Duration `long:"interval" env:"INTERVAL" default:"10s" description:"Interval between invocations"`
	} `group:"Pump" namespace:"pump" env-namespace:"DOCRELAY_PUMP"`

	AWS     mbp.AWSConfig     `group:"AWS" namespace:"aws" env-namespace:"DOCRELAY_AWS"`
	Etcd    mbp.EtcdConfig    `group:"Etcd" namespace:"etcd" env-namespace:"DOCRELAY_ETCD"`
	Service mbp.ServiceConfig `group:"Service" namespace:"service" env-namespace:"DOCRELAY_SERVICE"`

	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"DOCRELAY_LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DOCRELAY_DEBUG"`
}

// IniFilename is the INI file searched for by docrelay programs.
const IniFilename = "docrelay.ini"

// Target returns the configured WatchTarget.
func (c *BaseConfig) Target() protocol.WatchTarget {
	return protocol.WatchTarget{
		Database:      c.Watch.Database,
		Collection:    c.Watch.Collection,
		DatabaseLevel: c.Watch.DatabaseLevel,
	}
}
