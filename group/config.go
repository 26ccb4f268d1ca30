// Package group bootstraps the communicator of a process from its
// environment, and builds whole groups inside one process.
package group

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/gompi/comm"
)

// Environment variables read by FromEnv.
const (
	EnvRank        = "GOMPI_RANK"
	EnvSize        = "GOMPI_SIZE"
	EnvPeers       = "GOMPI_PEERS"
	EnvListenAddr  = "GOMPI_LISTEN_ADDR"
	EnvDialTimeout = "GOMPI_DIAL_TIMEOUT"
	EnvMonitorPort = "GOMPI_MONITOR_PORT"
	EnvTrace       = "GOMPI_TRACE"
)

// ErrInvalidRank reports a process whose rank is outside of its group.
var ErrInvalidRank = errors.New("invalid rank")

// DefaultDialTimeout is how long a rank waits for its peers to come up.
const DefaultDialTimeout = 10 * time.Second

// Config describes the place of a process in its group.
type Config struct {
	Rank        comm.Rank
	Size        int
	Peers       []string
	ListenAddr  string
	DialTimeout time.Duration
	MonitorPort int
	TraceFile   string
}

// DefaultConfig returns the configuration of a single process group.
func DefaultConfig() Config {
	return Config{
		Size:        1,
		DialTimeout: DefaultDialTimeout,
	}
}

// FromEnv reads the configuration from the environment variables.
func FromEnv() (Config, error) {
	return DefaultConfig().ApplyEnv()
}

// LoadEnvFile adds the variables of a .env file to the environment. Variables
// that are already set are kept.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}

	return nil
}

// ApplyEnv overrides the configuration with the environment variables that
// are set.
func (c Config) ApplyEnv() (Config, error) {
	if v, ok := os.LookupEnv(EnvRank); ok {
		rank, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("%s: %w", EnvRank, err)
		}

		c.Rank = comm.Rank(rank)
	}

	if v, ok := os.LookupEnv(EnvSize); ok {
		size, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("%s: %w", EnvSize, err)
		}

		c.Size = size
	}

	if v, ok := os.LookupEnv(EnvPeers); ok {
		c.Peers = splitPeers(v)
	}

	if v, ok := os.LookupEnv(EnvListenAddr); ok {
		c.ListenAddr = v
	}

	if v, ok := os.LookupEnv(EnvDialTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return c, fmt.Errorf("%s: %w", EnvDialTimeout, err)
		}

		c.DialTimeout = d
	}

	if v, ok := os.LookupEnv(EnvMonitorPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("%s: %w", EnvMonitorPort, err)
		}

		c.MonitorPort = port
	}

	if v, ok := os.LookupEnv(EnvTrace); ok {
		c.TraceFile = v
	}

	return c, nil
}

// Environ returns the environment variables that describe the configuration.
func (c Config) Environ() []string {
	env := []string{
		EnvRank + "=" + strconv.Itoa(int(c.Rank)),
		EnvSize + "=" + strconv.Itoa(c.Size),
		EnvPeers + "=" + strings.Join(c.Peers, ","),
		EnvDialTimeout + "=" + c.DialTimeout.String(),
	}

	if c.ListenAddr != "" {
		env = append(env, EnvListenAddr+"="+c.ListenAddr)
	}

	if c.MonitorPort != 0 {
		env = append(env, EnvMonitorPort+"="+strconv.Itoa(c.MonitorPort))
	}

	if c.TraceFile != "" {
		env = append(env, EnvTrace+"="+c.TraceFile)
	}

	return env
}

func splitPeers(v string) []string {
	var peers []string

	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, p)
		}
	}

	return peers
}

// Validate checks that the configuration describes a usable group member.
func (c Config) Validate() error {
	if c.Size < 1 {
		return fmt.Errorf("group size must be positive, got %d", c.Size)
	}

	if c.Rank < 0 || int(c.Rank) >= c.Size {
		return &comm.RankError{
			Op:   "bootstrap",
			Rank: c.Rank,
			Size: c.Size,
			Err:  ErrInvalidRank,
		}
	}

	if (c.Size > 1 || len(c.Peers) > 0) && len(c.Peers) != c.Size {
		return fmt.Errorf("a group of %d needs %d peer addresses, got %d",
			c.Size, c.Size, len(c.Peers))
	}

	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive, got %s",
			c.DialTimeout)
	}

	return nil
}

type hostfile struct {
	Size        int      `toml:"size" yaml:"size"`
	Peers       []string `toml:"peers" yaml:"peers"`
	DialTimeout string   `toml:"dial_timeout" yaml:"dial_timeout"`
	MonitorPort int      `toml:"monitor_port" yaml:"monitor_port"`
	Trace       string   `toml:"trace" yaml:"trace"`
}

// LoadHostfile reads the group layout from a .toml, .yaml, or .yml file. The
// rank of the process is not part of a hostfile.
func LoadHostfile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var hf hostfile

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, &hf)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &hf)
	default:
		err = fmt.Errorf("unsupported hostfile format %q", ext)
	}

	if err != nil {
		return Config{}, fmt.Errorf("hostfile %s: %w", path, err)
	}

	return hf.config(path)
}

func (hf hostfile) config(path string) (Config, error) {
	c := DefaultConfig()
	c.Peers = hf.Peers

	c.Size = hf.Size
	if c.Size == 0 {
		c.Size = len(hf.Peers)
	}

	if c.Size == 0 {
		c.Size = 1
	}

	if hf.DialTimeout != "" {
		d, err := time.ParseDuration(hf.DialTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("hostfile %s: dial_timeout: %w",
				path, err)
		}

		c.DialTimeout = d
	}

	c.MonitorPort = hf.MonitorPort
	c.TraceFile = hf.Trace

	return c, nil
}
