package commands

import (
	"time"

	"github.com/coilworks/optserve/internal/client"
)

type Globals struct {
	Debug   bool
	Version string
}

// ClientFlags are the connection flags shared by every API command.
type ClientFlags struct {
	Server   string        `help:"Server URL" default:"http://localhost:8080" env:"OPTSERVE_SERVER"`
	Token    string        `help:"API bearer token" env:"OPTSERVE_TOKEN"`
	CacheDir string        `help:"Response cache directory" env:"OPTSERVE_CACHE_DIR"`
	Timeout  time.Duration `help:"Request timeout" default:"30s"`
}

func (c *ClientFlags) apiClient() *client.Client {
	return client.New(client.Config{
		ServerURL: c.Server,
		Token:     c.Token,
		CacheDir:  c.CacheDir,
		Timeout:   c.Timeout,
	})
}
