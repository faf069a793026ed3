// Package etcdtest runs an Etcd server for the duration of a package's tests.
package etcdtest

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// server is the Etcd process of the test binary, if any.
var server struct {
	cmd    *exec.Cmd
	dir    string
	client *clientv3.Client
}

// TestClient returns a client of the test Etcd server, and skips the test if
// no server is running. The keyspace must be empty: each test is expected to
// remove its fixtures with Cleanup.
func TestClient(t *testing.T) *clientv3.Client {
	if server.client == nil {
		t.Skip("etcd binary is not available")
	}
	var resp, err = server.client.Get(context.Background(), "",
		clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		t.Fatal(err)
	} else if resp.Count != 0 {
		t.Fatalf("etcd has %d keys; did a previous test not Cleanup?", resp.Count)
	}
	return server.client
}

// Cleanup deletes all keys of the test Etcd server.
func Cleanup() {
	if server.client == nil {
		return
	}
	if _, err := server.client.Delete(context.Background(), "", clientv3.WithPrefix()); err != nil {
		log.WithField("err", err).Fatal("failed to clean up etcd")
	}
}

// TestMainWithEtcd is the TestMain of packages which use TestClient:
//
//	func TestMain(m *testing.M) { etcdtest.TestMainWithEtcd(m) }
//
// If an `etcd` binary is on the PATH, it's started over unix sockets of a
// temporary directory for the duration of the tests. Otherwise tests run
// without a server, and TestClient skips.
func TestMainWithEtcd(m *testing.M) {
	if err := start(); err != nil {
		log.WithField("err", err).Warn("etcd-backed tests will be skipped")
		os.Exit(m.Run())
	}
	var code = m.Run()

	if err := stop(); err != nil {
		log.WithField("err", err).Fatal("failed to stop etcd")
	}
	os.Exit(code)
}

func start() error {
	var bin, err = exec.LookPath("etcd")
	if err != nil {
		return err
	}
	if server.dir, err = os.MkdirTemp("", "etcdtest"); err != nil {
		return errors.WithMessage(err, "creating etcd directory")
	}

	var cmd = exec.Command(bin,
		"--listen-peer-urls", "unix://peer.sock:0",
		"--listen-client-urls", "unix://client.sock:0",
		"--advertise-client-urls", "unix://client.sock:0",
	)
	cmd.Dir = server.dir
	cmd.Env = append([]string{"ETCD_LOG_LEVEL=error", "ETCD_LOGGER=zap"}, os.Environ()...)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	bindLifetime(cmd)

	if err = cmd.Start(); err != nil {
		return errors.WithMessage(err, "starting etcd")
	}
	server.cmd = cmd

	var ep = "unix://" + filepath.Join(server.dir, "client.sock:0")
	if server.client, err = clientv3.New(clientv3.Config{
		Endpoints:   []string{ep},
		DialTimeout: 5 * time.Second,
	}); err != nil {
		_ = stop()
		return errors.WithMessage(err, "building etcd client")
	}
	log.WithField("endpoint", ep).Info("started test etcd")
	return nil
}

func stop() error {
	if server.client != nil {
		_ = server.client.Close()
		server.client = nil
	}
	if server.cmd != nil {
		if err := server.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			return errors.WithMessage(err, "signaling etcd")
		}
		_ = server.cmd.Wait()
	}
	return os.RemoveAll(server.dir)
}
