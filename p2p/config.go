package p2p

import (
	"net"
	"os"

	"github.com/naoina/toml"
)

func resolveTCPAddr(addr string) (net.Addr, error) {
	return net.ResolveTCPAddr("tcp", addr)
}

// Config is the TOML-serializable subset of a Service's setup: addresses
// and flags, as opposed to ServiceConfig's Go-only wiring (dialer,
// session factory, handshaker), which cannot round-trip through a file.
type Config struct {
	// Listen is the set of TCP addresses to bind at startup.
	Listen []string `toml:"listen"`
	// Dial is the set of TCP addresses to dial at startup.
	Dial []string `toml:"dial"`
	// Forever keeps the service alive with no listeners, dials, or
	// sessions.
	Forever bool `toml:"forever"`
}

// LoadConfig reads and parses a TOML config file, the way go-ethereum's
// node package loads its own TOML config.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Apply binds every configured listener and queues every configured dial
// on svc. Listen errors and unresolvable dial addresses abort
// immediately; queuing a resolved dial never fails synchronously.
func (c *Config) Apply(svc *Service) error {
	for _, addr := range c.Listen {
		if _, err := svc.Listen(addr); err != nil {
			return err
		}
	}
	for _, addr := range c.Dial {
		tcpAddr, err := resolveTCPAddr(addr)
		if err != nil {
			return err
		}
		svc.Dial(tcpAddr)
	}
	return nil
}
