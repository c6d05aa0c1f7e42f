package application

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"

	zlog "github.com/lk2023060901/danmu-garden-netser/pkg/log"
	zviper "github.com/lk2023060901/danmu-garden-netser/pkg/util/viper"
)

const (
	// DefaultConfigPath 是未指定配置文件时尝试加载的路径，文件不存在时只使用默认值。
	DefaultConfigPath = "./netsergen.yaml"
	// ConfigPathEnv 指定配置文件路径的环境变量。
	ConfigPathEnv = "NETSERGEN_CONFIG_FILE_PATH"
	// EnvPrefix 是配置项环境变量前缀，例如 NETSERGEN_OUTPUT_FILE 覆盖 output.file。
	EnvPrefix = "NETSERGEN"
)

// Settings 是 netsergen 的完整配置。
type Settings struct {
	// Dir 是加载包时的工作目录。
	Dir      string   `mapstructure:"dir"`
	Patterns []string `mapstructure:"patterns"`
	Tags     []string `mapstructure:"tags"`
	// Allow 是允许扫描函数体的 import path 前缀，为空表示全部允许。
	Allow       []string       `mapstructure:"allow"`
	Concurrency int            `mapstructure:"concurrency"`
	Output      OutputSettings `mapstructure:"output"`
	Log         zlog.Config    `mapstructure:"log"`
}

type OutputSettings struct {
	File    string `mapstructure:"file"`
	Package string `mapstructure:"package"`
	// PkgPath 是生成文件所在包的 import path，用于决定函数是否需要包限定。
	PkgPath string `mapstructure:"pkgpath"`
}

// AllowFunc 把 Allow 前缀列表转换为扫描过滤函数。
func (s *Settings) AllowFunc() func(pkgPath string) bool {
	if len(s.Allow) == 0 {
		return nil
	}
	prefixes := s.Allow
	return func(pkgPath string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(pkgPath, p) {
				return true
			}
		}
		return false
	}
}

// Application 持有 netsergen 的配置与日志。
type Application struct {
	configPath string
	overrides  map[string]any

	cfg      *zviper.Config
	settings Settings
	loggers  map[string]*zlog.MLogger
}

// Option 配置 Application。
type Option func(*Application)

// WithConfigPath 显式指定配置文件，优先级高于环境变量与默认路径。
func WithConfigPath(path string) Option {
	return func(a *Application) { a.configPath = path }
}

// WithOverride 以最高优先级覆盖一个配置项，通常来自命令行参数。
func WithOverride(key string, value any) Option {
	return func(a *Application) {
		if a.overrides == nil {
			a.overrides = make(map[string]any)
		}
		a.overrides[key] = value
	}
}

// New creates a new Application instance.
func New(opts ...Option) *Application {
	a := &Application{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Load 按以下优先级解析配置并初始化日志：
//  1. 默认：./netsergen.yaml（可以不存在）
//  2. 环境变量：NETSERGEN_CONFIG_FILE_PATH
//  3. WithConfigPath
//
// 配置项本身再被 NETSERGEN_* 环境变量与 WithOverride 覆盖。
func (a *Application) Load() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg
	if err := cfg.Unmarshal(&a.settings); err != nil {
		return errors.Wrap(err, "decode netsergen settings")
	}
	return a.initLogging()
}

// Config returns the loaded configuration, if any.
func (a *Application) Config() *zviper.Config {
	return a.cfg
}

func (a *Application) Settings() *Settings {
	return &a.settings
}

// Logger returns a named logger created from configuration.
// If the name is unknown, it falls back to the global logger.
func (a *Application) Logger(name string) *zlog.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &zlog.MLogger{Logger: zlog.L()}
}

func (a *Application) loadConfig() (*zviper.Config, error) {
	configPath, explicit := DefaultConfigPath, false
	if envPath := strings.TrimSpace(os.Getenv(ConfigPathEnv)); envPath != "" {
		configPath, explicit = envPath, true
	}
	if a.configPath != "" {
		configPath, explicit = a.configPath, true
	}

	cfg := zviper.New()
	cfg.BindEnv(EnvPrefix)
	cfg.SetDefault("dir", ".")
	cfg.SetDefault("patterns", []string{"./..."})
	cfg.SetDefault("concurrency", 4)
	cfg.SetDefault("output.file", "netser_events_gen.go")
	cfg.SetDefault("log.level", "info")
	cfg.SetDefault("log.format", zlog.FormatText)

	if _, statErr := os.Stat(configPath); statErr == nil || explicit {
		if err := cfg.LoadFile(configPath); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %q", configPath)
		}
	}
	for key, value := range a.overrides {
		cfg.Set(key, value)
	}
	return cfg, nil
}

// initLogging 初始化全局日志，再按 "logging" 节创建命名日志。
//
// Example:
//
//	log:
//	  level: debug
//	  stdout: true
//	logging:
//	  scan:
//	    level: debug
//	    file:
//	      rootpath: ./logs
//	      filename: scan.log
func (a *Application) initLogging() error {
	logger, props, err := zlog.InitLogger(&a.settings.Log)
	if err != nil {
		return errors.Wrap(err, "init global logger")
	}
	zlog.ReplaceGlobals(logger, props)

	raw := make(map[string]zlog.Config)
	if err := a.cfg.UnmarshalKey("logging", &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, _, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger}
	}
	return nil
}
