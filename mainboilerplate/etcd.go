package mainboilerplate

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/url"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
)

// EtcdConfig configures the Etcd session used for run leases. An empty
// Address disables leases.
type EtcdConfig struct {
	Address       string        `long:"address" env:"ADDRESS" description:"Etcd service address endpoint, eg http://localhost:2379. Run leases are disabled if empty"`
	CertFile      string        `long:"cert-file" env:"CERT_FILE" default:"" description:"Path to the client TLS certificate"`
	CertKeyFile   string        `long:"cert-key-file" env:"CERT_KEY_FILE" default:"" description:"Path to the client TLS private key"`
	TrustedCAFile string        `long:"trusted-ca-file" env:"TRUSTED_CA_FILE" default:"" description:"Path to the trusted CA for client verification of server certificates"`
	LeaseTTL      time.Duration `long:"lease" env:"LEASE_TTL" default:"20s" description:"Time-to-live of Etcd run leases"`
	Prefix        string        `long:"prefix" env:"PREFIX" default:"/docrelay/leases" description:"Key prefix of run leases"`
}

// Dial builds an Etcd client of the EtcdConfig. It first performs a blocking
// trial dial bounded by |ctx|, so that a partitioned or mis-configured Etcd
// is reported here rather than by the first lease attempt.
func (c *EtcdConfig) Dial(ctx context.Context) (*clientv3.Client, error) {
	var addr, err = url.Parse(c.Address)
	if err != nil {
		return nil, errors.WithMessage(err, "parsing Etcd address")
	}
	var tlsConfig *tls.Config

	switch addr.Scheme {
	case "https":
		if tlsConfig, err = BuildTLSConfig(c.CertFile, c.CertKeyFile, c.TrustedCAFile); err != nil {
			return nil, errors.WithMessage(err, "building Etcd TLS config")
		}
	case "unix":
		// The Etcd client requires hostname is stripped from unix:// URLs.
		addr.Host = ""
	}

	var timer = time.AfterFunc(time.Second, func() {
		log.WithField("addr", addr.String()).Warn("dialing Etcd is taking a while (is network okay?)")
	})
	defer timer.Stop()

	trial, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{addr.String()},
		Context:     ctx,
		DialOptions: []grpc.DialOption{grpc.WithBlock()},
		TLS:         tlsConfig,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "building trial Etcd client")
	}
	_ = trial.Close()

	etcd, err := clientv3.New(clientv3.Config{
		Endpoints:        []string{addr.String()},
		AutoSyncInterval: time.Minute,
		// Cycle quickly through member endpoints, well within a lease TTL.
		DialTimeout:          c.LeaseTTL / 20,
		DialKeepAliveTime:    c.LeaseTTL / 4,
		DialKeepAliveTimeout: c.LeaseTTL / 4,
		RejectOldCluster:     true,
		TLS:                  tlsConfig,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "building Etcd client")
	}
	if err = etcd.Sync(ctx); err != nil {
		_ = etcd.Close()
		return nil, errors.WithMessage(err, "initial Etcd endpoint sync")
	}
	return etcd, nil
}

// MustDial builds an Etcd client of the EtcdConfig, or panics.
func (c *EtcdConfig) MustDial() *clientv3.Client {
	var etcd, err = c.Dial(context.Background())
	Must(err, "failed to dial Etcd", "address", c.Address)
	return etcd
}

// BuildTLSConfig returns a client *tls.Config presenting the optional
// certificate and key, and trusting the optional CA bundle.
func BuildTLSConfig(certFile, keyFile, trustedCAFile string) (*tls.Config, error) {
	var cfg = &tls.Config{MinVersion: tls.VersionTLS12}

	if certFile != "" || keyFile != "" {
		var cert, err = tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, errors.WithMessage(err, "loading client certificate")
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if trustedCAFile != "" {
		var pem, err = os.ReadFile(trustedCAFile)
		if err != nil {
			return nil, errors.WithMessage(err, "reading trusted CA file")
		}
		var pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("no certificates found in %s", trustedCAFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
