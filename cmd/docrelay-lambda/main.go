// docrelay-lambda hosts docrelay runs as an AWS Lambda function. One binary
// serves each role, selected by DOCRELAY_LAMBDA_ROLE:
//
//   - "capture" performs one capture run per invocation.
//   - "index" applies the records of an SQS event batch.
//   - "pump" performs one pump run per invocation.
//
// All other configuration is read from DOCRELAY_* environment variables, as
// documented by `docrelay print-config`.
package main

import (
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	mbp "go.docrelay.dev/core/mainboilerplate"
	"go.docrelay.dev/core/mainboilerplate/runrelay"
)

// RoleEnv selects the role of the function.
const RoleEnv = "DOCRELAY_LAMBDA_ROLE"

func main() {
	var cfg = new(runrelay.BaseConfig)
	var _, err = flags.NewParser(cfg, flags.Default).ParseArgs(nil)
	mbp.Must(err, "failed to parse configuration from environment")

	// Lambda collects JSON log lines more usefully than text.
	cfg.Log.Format = "json"
	mbp.InitLog(cfg.Log)

	var h = &handler{env: runrelay.NewEnv(cfg)}
	var role = os.Getenv(RoleEnv)

	log.WithFields(log.Fields{
		"role":    role,
		"version": mbp.Version,
	}).Info("starting docrelay function")

	switch role {
	case "capture":
		lambda.Start(h.capture)
	case "index":
		lambda.Start(h.index)
	case "pump":
		lambda.Start(h.pump)
	default:
		log.WithField("role", role).Fatal("expected " + RoleEnv + " of capture, index or pump")
	}
}
