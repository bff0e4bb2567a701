package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"hermes"
	"hermes/lib/logger"
	"hermes/pubsub"
	"hermes/redis/server"
	"hermes/settings"
)

func main() {
	fs := pflag.NewFlagSet("hermes-server", pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: hermes-server [-c config.yaml] [host:port]\n")
		fs.PrintDefaults()
	}
	configFile := fs.StringP("config", "c", "", "path to the config file")
	if err := settings.BindFlags(fs); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	_ = fs.Parse(os.Args[1:])
	if fs.NArg() > 1 {
		fs.Usage()
		os.Exit(2)
	}

	if err := settings.Init(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	conf := settings.Conf
	if fs.NArg() == 1 {
		// 命令行中的地址优先于配置文件
		if err := conf.SetAddr(fs.Arg(0)); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}

	logger.Setup(conf.LogConfig)
	settings.OnChange(func(c *settings.AppConfig) {
		if err := logger.SetLevel(c.Level); err != nil {
			logger.Warnf("config reload: %v", err)
			return
		}
		logger.Infof("config reloaded, log level %s", c.Level)
	})

	db, err := hermes.Open(conf.DBConfig)
	if err != nil {
		logger.Fatal("open db failed:", err)
	}
	handler := server.MakeHandler(conf, db, pubsub.NewBroker())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- handler.Handle()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("received %s, shutting down server...", sig)
	case err := <-serveErr:
		if err != nil {
			logger.Fatal("server failed:", err)
		}
	}

	if err := handler.Close(); err != nil {
		logger.Errorf("close server: %v", err)
	}
	if err := db.Close(); err != nil {
		logger.Errorf("close db: %v", err)
	}
	logger.Info("server stopped")
	_ = logger.DefaultLogger.Close()
}
