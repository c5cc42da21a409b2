// Package autoload configures the global logger from LOG_* variables when
// imported for side effects.
package autoload

import (
	configx "github.com/neohoods/portal-assistant/pkg/config"
	logx "github.com/neohoods/portal-assistant/pkg/logger"
)

func init() {
	conf, err := configx.New[logx.Config]("LOG")
	if err != nil {
		logx.Init()
		return
	}
	logx.Init(*conf)
}
