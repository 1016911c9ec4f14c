// Package config loads a unicast layer's bootstrap configuration: the
// field widths and policy selectors negotiated once at layer startup
// and held constant for its lifetime, the way toxcore.Options bundles
// a Tox instance's construction-time parameters.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ouroboros-go/unicast/graph"
	"github.com/ouroboros-go/unicast/kerr"
	"github.com/ouroboros-go/unicast/pcodec"
)

// Algo mirrors graph.Algo in the YAML vocabulary ("simple", "lfa", "ecmp").
type Algo string

const (
	AlgoSimple Algo = "simple"
	AlgoLFA    Algo = "lfa"
	AlgoECMP   Algo = "ecmp"
)

func (a Algo) toGraph() graph.Algo {
	switch a {
	case AlgoLFA:
		return graph.LFA
	case AlgoECMP:
		return graph.ECMP
	default:
		return graph.Simple
	}
}

// Wire holds the DT-PCI field widths negotiated at bootstrap (§3).
type Wire struct {
	AddrSize int `yaml:"addr_size"`
	EIDSize  int `yaml:"eid_size"`
	MaxTTL   int `yaml:"max_ttl"`
}

// Routing holds the link-state policy's timer configuration (§4.3).
type Routing struct {
	Algo         Algo          `yaml:"algo"`
	Cubes        []int         `yaml:"cubes"`
	LSUpdateTime time.Duration `yaml:"ls_update_time"`
	LSTimeout    time.Duration `yaml:"ls_timeout"`
	RecalcTime   time.Duration `yaml:"recalc_time"`
}

// DHT holds the Kademlia parameters negotiated at bootstrap (§4.6).
type DHT struct {
	HashLen      int           `yaml:"hash_len"` // b, bytes
	K            int           `yaml:"k"`
	Alpha        int           `yaml:"alpha"`
	Beta         int           `yaml:"beta"`
	Cube         int           `yaml:"cube"`
	TRefresh     time.Duration `yaml:"t_refresh"`
	TReplicate   time.Duration `yaml:"t_replicate"`
	TExpire      time.Duration `yaml:"t_expire"`
	TResponse    time.Duration `yaml:"t_response"`
	JoinInterval time.Duration `yaml:"join_interval"`
	RJoin        int           `yaml:"r_join"`
}

// Config is a layer's complete bootstrap configuration.
type Config struct {
	Self        uint64  `yaml:"self"`
	ReservedEID uint64  `yaml:"reserved_eid"`
	Wire        Wire    `yaml:"wire"`
	Routing     Routing `yaml:"routing"`
	DHT         DHT     `yaml:"dht"`
}

// Load reads and validates a YAML bootstrap configuration from path.
func Load(path string) (Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, kerr.Wrap("config.Load", kerr.Resource, err).WithDst(path)
	}
	return Parse(buf)
}

// Parse decodes and validates a YAML bootstrap configuration from buf.
func Parse(buf []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(buf, &c); err != nil {
		return Config{}, kerr.Wrap("config.Parse", kerr.Protocol, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the loaded configuration's widths and DHT parameters
// are within range, the same gate pcodec.Widths.Validate applies to
// the wire section alone.
func (c Config) Validate() error {
	w := pcodec.Widths{AddrSize: c.Wire.AddrSize, EIDSize: c.Wire.EIDSize, MaxTTL: uint8(c.Wire.MaxTTL)}
	if err := w.Validate(); err != nil {
		return err
	}
	if c.DHT.HashLen < 8 {
		return kerr.New("config.Validate", kerr.Protocol).WithDst("dht.hash_len")
	}
	if c.DHT.K < 1 || c.DHT.Alpha < 1 || c.DHT.Beta < 1 {
		return kerr.New("config.Validate", kerr.Protocol).WithDst("dht k/alpha/beta")
	}
	if c.Self == 0 {
		return kerr.New("config.Validate", kerr.Protocol).WithDst("self")
	}
	return nil
}

// GraphAlgo resolves the configured routing algorithm selector.
func (c Config) GraphAlgo() graph.Algo { return c.Routing.Algo.toGraph() }

// Widths returns the codec field widths this configuration negotiates.
func (c Config) Widths() pcodec.Widths {
	return pcodec.Widths{AddrSize: c.Wire.AddrSize, EIDSize: c.Wire.EIDSize, MaxTTL: uint8(c.Wire.MaxTTL)}
}

// RoutingCubes converts the configured cube list to pcodec.QoS values.
func (c Config) RoutingCubes() []pcodec.QoS {
	out := make([]pcodec.QoS, len(c.Routing.Cubes))
	for i, q := range c.Routing.Cubes {
		out[i] = pcodec.QoS(q)
	}
	return out
}
