// Package mainboilerplate contains shared boilerplate for docrelay programs.
// It provides narrowly scoped helpers for logging, configuration parsing,
// diagnostics, and dialing of shared services, so that callers need not
// buy-in to an all-or-nothing approach.
package mainboilerplate

import (
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // Import for /debug/pprof
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Version and BuildDate are populated at link time.
var (
	Version   = "development"
	BuildDate = "unknown"
)

// DiagnosticsConfig configures pull-based application metrics, debugging and diagnostics.
type DiagnosticsConfig struct {
	Port string `long:"port" env:"PORT" default:":8080" description:"Address on which /debug/metrics, /debug/ready and /debug/pprof are served. Empty disables serving"`
}

// InitDiagnosticsAndRecover registers |collectors|, and serves /debug/ready,
// /debug/metrics and /debug/pprof of the default ServeMux at cfg.Port.
// The returned func is to be deferred by main: it writes the message of a
// panic to the Kubernetes termination log before re-panicking.
func InitDiagnosticsAndRecover(cfg DiagnosticsConfig, collectors ...prometheus.Collector) func() {
	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				Must(err, "failed to register collector")
			}
		}
	}

	http.HandleFunc("/debug/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	http.Handle("/debug/metrics", promhttp.Handler())

	if cfg.Port != "" {
		var ln, err = net.Listen("tcp", cfg.Port)
		Must(err, "failed to bind diagnostics listener", "port", cfg.Port)

		log.WithField("addr", ln.Addr().String()).Info("serving diagnostics")
		go func() { _ = http.Serve(ln, nil) }()
	}

	return recoverWithTerminationMessage
}

// recoverWithTerminationMessage re-panics a recovered panic, after writing
// it as the termination message of a Kubernetes container where possible.
func recoverWithTerminationMessage() {
	var r = recover()
	if r == nil {
		return
	}
	// Bug: https://github.com/kubernetes/kubernetes/issues/31839
	if f, err := os.OpenFile(terminationLogPath, os.O_WRONLY, 0); err == nil {
		_, _ = fmt.Fprintf(f, "%+v", r)
		_ = f.Close()
	}
	panic(r)
}

// Must panics with |msg| if |err| is non-nil. |extra| are alternating
// field names and values added to the logged panic.
func Must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}
	var entry = log.WithError(err)
	for i := 0; i+1 < len(extra); i += 2 {
		entry = entry.WithField(fmt.Sprint(extra[i]), extra[i+1])
	}
	entry.Panic(msg)
}

// terminationLogPath is read by Kubernetes as the reason of a container's
// failure. See https://kubernetes.io/docs/tasks/debug/debug-application/determine-reason-pod-failure/
const terminationLogPath = "/dev/termination-log"
