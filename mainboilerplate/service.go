package mainboilerplate

import (
	"os"

	petname "github.com/dustinkirkland/golang-petname"
)

// ServiceConfig represents identification of the process.
type ServiceConfig struct {
	ID string `long:"id" env:"ID" description:"Unique ID of this process, used as the holder of run leases. Auto-generated if not set"`
}

// ProcessID returns the configured ID, or a generated one of the hostname
// and a random pet name (eg "ip-10-0-0-1-wise-lemur").
func (cfg ServiceConfig) ProcessID() string {
	if cfg.ID != "" {
		return cfg.ID
	}
	var name = petname.Generate(2, "-")
	if host, err := os.Hostname(); err == nil && host != "" {
		return host + "-" + name
	}
	return name
}
