package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/everpan/idorm/pkg/config"
	"github.com/everpan/idorm/pkg/core"
	"github.com/everpan/idorm/pkg/event/watcher"
	_ "github.com/everpan/idorm/pkg/handler"
	"github.com/everpan/idorm/pkg/model"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	logger := config.GetLogger()
	if err := config.ReloadConfig(); err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if path := viper.GetString("orm.models"); path != "" {
		if err := core.LoadModels(model.Default(), path); err != nil {
			logger.Fatal("load models", zap.String("file", path), zap.Error(err))
		}
	}

	bus, err := core.OpenEventBus()
	if err != nil {
		logger.Fatal("open event bus", zap.Error(err))
	}
	if bus != nil {
		core.SetPublisher(bus)
		defer bus.Close()
	}

	if file := config.ConfigFile(); file != "" {
		fw, err := watcher.NewFileWatcher(core.Publisher(), viper.GetString("event.config-topic"), config.ReloadConfig, logger)
		if err != nil {
			logger.Fatal("watch config", zap.Error(err))
		}
		if err := fw.Watch(file); err != nil {
			logger.Fatal("watch config", zap.String("file", file), zap.Error(err))
		}
		defer fw.Close()
	}

	app := core.CreateApp()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		_ = app.Shutdown()
	}()
	if err := app.Listen(viper.GetString("server.addr")); err != nil {
		logger.Error("listen", zap.Error(err))
	}
	core.CloseEngines()
}
