package main

import (
	"log/slog"
	"strings"
	"sync"

	fapctl "github.com/axondata/go-fapctl"
	"github.com/axondata/go-fapctl/internal/config"
	"github.com/axondata/go-fapctl/internal/logging"
)

type commandContext struct {
	configFlag *string
	levelFlag  *string
	formatFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag, levelFlag, formatFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		levelFlag:  levelFlag,
		formatFlag: formatFlag,
	}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if c.levelFlag != nil && *c.levelFlag != "" {
			cfg.Logging.Level = *c.levelFlag
		}
		if c.formatFlag != nil && *c.formatFlag != "" {
			cfg.Logging.Format = *c.formatFlag
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		outputs := []string{"stderr"}
		if cfg.Logging.File != "" {
			outputs = append(outputs, cfg.Logging.File)
		}
		c.logger, c.loggerErr = logging.New(logging.Options{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			OutputPaths: outputs,
		})
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) serviceClient() (*fapctl.ClientSystemd, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	client := fapctl.NewClientSystemd(cfg.Service.Name).
		WithSudo(cfg.Service.UseSudo, "").
		WithSystemctlPath(cfg.Service.SystemctlPath).
		WithTimeout(cfg.ServiceTimeout())
	return client, nil
}

// controller builds a Controller in the configured mode
func (c *commandContext) controller() (*fapctl.Controller, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	client, err := c.serviceClient()
	if err != nil {
		return nil, err
	}
	mode, err := fapctl.ParseMode(cfg.Service.Mode)
	if err != nil {
		return nil, err
	}

	return fapctl.NewController(client,
		fapctl.WithMode(mode),
		fapctl.WithLogger(logger),
		fapctl.WithLockPath(cfg.Profiling.LockPath),
		fapctl.WithProfilingDaemon(cfg.Profiling.DaemonCommand),
		fapctl.WithDaemonStopGrace(cfg.StopGrace()),
	), nil
}

// registry builds a Registry from config; opts are applied last
func (c *commandContext) registry(ctrl *fapctl.Controller, opts ...fapctl.RegistryOption) (*fapctl.Registry, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	defaults := []fapctl.RegistryOption{
		fapctl.WithStartupDelay(cfg.StartupDelay()),
		fapctl.WithTargetLogDir(cfg.Profiling.LogDir),
		fapctl.WithSessionStopGrace(cfg.StopGrace()),
		fapctl.WithRegistryLogger(logger),
	}
	return fapctl.NewRegistry(ctrl, append(defaults, opts...)...), nil
}
