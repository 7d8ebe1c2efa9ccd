package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Watch reloads the config whenever its file changes and hands every valid
// result to apply. Invalid edits are logged and ignored, so the previous
// settings stay in force.
func Watch(v *viper.Viper, logger *zap.Logger, apply func(*Config)) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		handleChange(v, logger, e, apply)
	})
	v.WatchConfig()
}

func handleChange(v *viper.Viper, logger *zap.Logger, e fsnotify.Event, apply func(*Config)) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	cfg, err := Load(v)
	if err != nil {
		logger.Warn("config reload rejected", zap.String("file", e.Name), zap.Error(err))
		return
	}
	logger.Info("config reloaded", zap.String("file", e.Name))
	apply(cfg)
}
