package main

import (
	"flag"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/matheus3301/wppadmin/internal/daemon"
	"github.com/matheus3301/wppadmin/internal/paths"
)

func main() {
	configFlag := flag.String("config", paths.ConfigPath(), "path to config.toml")
	verboseFlag := flag.Bool("verbose", false, "log dependency injection events")
	flag.Parse()

	opts := []fx.Option{daemon.Module(daemon.Params{ConfigPath: *configFlag})}
	if *verboseFlag {
		opts = append(opts, fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger}
		}))
	} else {
		opts = append(opts, fx.NopLogger)
	}

	fx.New(opts...).Run()
}
