// stepgame-client is a terminal client for the stepgame server.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/stepgame/internal/client"
	"github.com/energizer-project/stepgame/internal/config"
	"github.com/energizer-project/stepgame/internal/util"
)

func main() {
	addr := flag.String("addr", config.DefaultListenAddr, "server address")
	plain := flag.Bool("plain", false, "connect without TLS")
	caFile := flag.String("ca", "", "PEM file with the CA or server certificate to trust")
	insecure := flag.Bool("insecure", false, "accept any server certificate")
	serverName := flag.String("server-name", "", "expected certificate name, defaults to the address host")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logCfg := util.DefaultLogConfig()
	logCfg.Level = *logLevel
	logCfg.Directory = ""
	logCfg.App = "stepgame-client"
	if err := util.InitLogger(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	var tlsCfg *tls.Config
	if !*plain {
		name := *serverName
		if name == "" {
			host, _, err := net.SplitHostPort(*addr)
			if err != nil {
				log.Fatal().Err(err).Str("addr", *addr).Msg("invalid server address")
			}
			name = host
		}
		cfg, err := util.LoadClientTLS(*caFile, name, *insecure)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build TLS config")
		}
		tlsCfg = cfg
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := client.Dial(dialCtx, *addr, tlsCfg)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Couldn't connect to server: %v\n", err)
		os.Exit(1)
	}

	c := client.New(conn, os.Stdout)
	c.Display().Banner(*addr)
	if err := c.Run(ctx, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
