package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/gitzhang10/pbftchain/api"
	"github.com/gitzhang10/pbftchain/config"
	"github.com/gitzhang10/pbftchain/conn"
	"github.com/gitzhang10/pbftchain/pbft"
	"github.com/gitzhang10/pbftchain/store"
)

var (
	configPath string
	configName string
)

func init() {
	runCmd.Flags().StringVarP(&configPath, "config-path", "p", "./", "Directory holding the configuration file")
	runCmd.Flags().StringVarP(&configName, "config", "c", "config", "Name of the configuration file without extension")
	rootCmd.AddCommand(runCmd)
}

var rootCmd = &cobra.Command{
	Use:   "pbftchain",
	Short: "Three-phase agreement node appending decided values to a hash-linked chain",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.HelpFunc()(cmd, args)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a node",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		conf, err := config.LoadConfig(configPath, configName)
		if err != nil {
			reportErrorf("Unable to load the configuration: %v", err)
		}
		if err = startNode(conf); err != nil {
			reportErrorf("The node stopped: %v", err)
		}
	},
}

func reportErrorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func startNode(conf *config.Config) error {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "PBFT-api",
		Output: hclog.DefaultOutput,
		Level:  hclog.Level(conf.LogLevel),
	})
	netLogger := logger.ResetNamed("PBFT-net")

	st, err := store.Open(conf.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	var (
		node    *pbft.Node
		apiAddr string
	)
	switch conf.Transport {
	case config.TransportTCP:
		trans, err := conn.NewTCPTransport(conf.ListenAddress(), conf.BroadcastTimeout, os.Stderr,
			conf.MaxPool, pbft.ReflectedTypesMap)
		if err != nil {
			return err
		}
		defer trans.Close()
		node = pbft.NewNode(conf, st, trans, reg)
		go node.HandleMsgLoop(trans.MsgChan())
		apiAddr = conf.APIAddr
	default:
		trans := conn.NewHTTPTransport(conf.BroadcastTimeout, pbft.Paths, netLogger)
		node = pbft.NewNode(conf, st, trans, reg)
		apiAddr = conf.ListenAddress()
	}

	errCh := make(chan error, 1)
	var srv *http.Server
	if apiAddr != "" {
		srv = &http.Server{
			Addr:              apiAddr,
			Handler:           api.NewRouter(node, reg, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}
	logger.Info("node starts", "name", conf.Name, "transport", conf.Transport,
		"primary", node.IsPrimary(), "quorum", node.QuorumNum(), "api", apiAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("node stops", "signal", sig.String())
	case err = <-errCh:
		return err
	}
	if srv != nil {
		return srv.Close()
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		reportErrorf("%v", err)
	}
}
