/*
Package main in the directory config_gen implements a tool to read configuration from a template,
and generate customized configuration files for each node.
Every generated file carries the same freshly generated shared secret.
*/
package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/gitzhang10/pbftchain/sign"
)

func main() {

	viperRead := viper.New()
	// for environment variables
	viperRead.SetEnvPrefix("")
	viperRead.AutomaticEnv()
	replacer := strings.NewReplacer(".", "_")
	viperRead.SetEnvKeyReplacer(replacer)
	viperRead.SetConfigName("config_template")
	viperRead.AddConfigPath("./")
	viperRead.SetDefault("transport", "http")
	viperRead.SetDefault("log_level", 3)
	viperRead.SetDefault("max_pool", 10)
	viperRead.SetDefault("broadcast_timeout_ms", 1000)
	err := viperRead.ReadInConfig()
	if err != nil {
		panic(err)
	}

	// nodes[0] becomes the primary
	nodes := viperRead.GetStringSlice("nodes")
	if len(nodes) == 0 {
		panic("nodes in the config file cannot be decoded correctly")
	}
	// api_addrs is only read for the tcp transport
	apiAddrs := viperRead.GetStringSlice("api_addrs")
	if len(apiAddrs) != 0 && len(apiAddrs) != len(nodes) {
		panic("api_addrs does not match with nodes")
	}

	// load simple parameter
	transport := viperRead.GetString("transport")
	logLevel := viperRead.GetInt("log_level")
	maxPool := viperRead.GetInt("max_pool")
	broadcastTimeout := viperRead.GetInt("broadcast_timeout_ms")
	dbDir := viperRead.GetString("db_dir")

	secret := viperRead.GetString("secret")
	if secret == "" {
		secret = sign.GenSecret()
	}

	// write to configure files
	for i, name := range nodes {
		viperWrite := viper.New()
		viperWrite.SetConfigFile(fmt.Sprintf("node%d.yaml", i))

		viperWrite.Set("name", name)
		viperWrite.Set("nodes", nodes)
		viperWrite.Set("secret", secret)
		viperWrite.Set("transport", transport)
		viperWrite.Set("log_level", logLevel)
		viperWrite.Set("max_pool", maxPool)
		viperWrite.Set("broadcast_timeout_ms", broadcastTimeout)
		if dbDir != "" {
			viperWrite.Set("db_path", filepath.Join(dbDir, fmt.Sprintf("node%d.db", i)))
		}
		if len(apiAddrs) != 0 {
			viperWrite.Set("api_addr", apiAddrs[i])
		}
		if err = viperWrite.WriteConfig(); err != nil {
			panic(err)
		}
	}
	fmt.Printf("%d configuration files are generated, primary: %s\n", len(nodes), nodes[0])
}
