package mainboilerplate

import (
	log "github.com/sirupsen/logrus"
)

// LogConfig configures handling of application log events.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
	Caller bool   `long:"caller" env:"CALLER" description:"Annotate log events with their calling function"`
}

// InitLog configures the standard logger of the LogConfig.
func InitLog(cfg LogConfig) {
	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	case "color":
		log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.SetReportCaller(cfg.Caller)

	var lvl, err = log.ParseLevel(cfg.Level)
	if err != nil {
		log.WithField("err", err).Fatal("unrecognized log level")
	}
	log.SetLevel(lvl)
}
