/*
Package config implements the type to pass the arguments to the node
and implements a function to load the parameters from a configuration file.
*/
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	TransportHTTP = "http"
	TransportTCP  = "tcp"
)

// Config defines a type to describe the configuration.
// It is immutable once loaded.
type Config struct {
	Name             string   // this node's own address, as listed in Nodes
	Nodes            []string // all node addresses in a fixed order, Nodes[0] is the primary
	Secret           []byte   // shared authentication key
	LogLevel         int
	Transport        string
	ListenAddr       string
	DBPath           string // empty keeps the state in memory
	MaxPool          int
	BroadcastTimeout time.Duration
	APIAddr          string // HTTP api address when the tcp transport carries protocol messages
}

// New creates a new variable of type Config for test
func New(name string, nodes []string, secret []byte, logLevel int, transport string, listenAddr string,
	dbPath string, maxPool int, broadcastTimeout time.Duration) *Config {
	return &Config{
		Name:             name,
		Nodes:            nodes,
		Secret:           secret,
		LogLevel:         logLevel,
		Transport:        transport,
		ListenAddr:       listenAddr,
		DBPath:           dbPath,
		MaxPool:          maxPool,
		BroadcastTimeout: broadcastTimeout,
	}
}

// LoadConfig loads configuration files by package viper.
func LoadConfig(configPath, configName string) (*Config, error) {
	viperConfig := viper.New()

	// for environment variables
	viperConfig.SetEnvPrefix("pbft")
	viperConfig.AutomaticEnv()
	replacer := strings.NewReplacer(".", "_")
	viperConfig.SetEnvKeyReplacer(replacer)

	viperConfig.SetDefault("log_level", 3)
	viperConfig.SetDefault("transport", TransportHTTP)
	viperConfig.SetDefault("max_pool", 10)
	viperConfig.SetDefault("broadcast_timeout_ms", 1000)

	viperConfig.SetConfigName(configName)
	if configPath == "" {
		configPath = "./"
	}
	viperConfig.AddConfigPath(configPath)
	err := viperConfig.ReadInConfig()
	if err != nil {
		return nil, err
	}

	conf := &Config{
		Name:             viperConfig.GetString("name"),
		Nodes:            viperConfig.GetStringSlice("nodes"),
		Secret:           []byte(viperConfig.GetString("secret")),
		LogLevel:         viperConfig.GetInt("log_level"),
		Transport:        viperConfig.GetString("transport"),
		ListenAddr:       viperConfig.GetString("listen_addr"),
		DBPath:           viperConfig.GetString("db_path"),
		MaxPool:          viperConfig.GetInt("max_pool"),
		BroadcastTimeout: time.Duration(viperConfig.GetInt("broadcast_timeout_ms")) * time.Millisecond,
		APIAddr:          viperConfig.GetString("api_addr"),
	}
	if err = conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate checks that the configuration describes a usable node.
func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return errors.New("the node list is empty")
	}
	found := false
	seen := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if seen[n] {
			return fmt.Errorf("node %s is listed twice", n)
		}
		seen[n] = true
		if n == c.Name {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("node %s is not in the node list", c.Name)
	}
	if len(c.Secret) == 0 {
		return errors.New("the shared secret is empty")
	}
	if c.Transport != TransportHTTP && c.Transport != TransportTCP {
		return fmt.Errorf("the transport %q is unknown", c.Transport)
	}
	return nil
}

// Primary returns the address of the primary node.
func (c *Config) Primary() string {
	return c.Nodes[0]
}

// ListenAddress returns the address to bind. Without an explicit listen_addr
// it is derived from the node's own address.
func (c *Config) ListenAddress() string {
	if c.ListenAddr != "" {
		return c.ListenAddr
	}
	if c.Transport == TransportHTTP {
		if u, err := url.Parse(c.Name); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return c.Name
}
