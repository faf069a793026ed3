package etcdtest

import (
	"os/exec"
	"syscall"
)

// bindLifetime signals the etcd child should this process die first (eg, on
// a test timeout panic), so that `go test` doesn't wait on it forever.
func bindLifetime(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM}
}
