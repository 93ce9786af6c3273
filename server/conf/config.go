package conf

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	jerrors "github.com/juju/errors"
	"github.com/pelletier/go-toml"
	"gopkg.in/ini.v1"

	"github.com/zhukovaskychina/xmysql-txstore/logger"
	"github.com/zhukovaskychina/xmysql-txstore/server/store"
)

// DefaultConfigFile 未指定配置文件时使用的路径
const DefaultConfigFile = "conf/store.ini"

// minBlockSize 日志块至少要容纳边界和一条短记录
const minBlockSize = 16

type CommandLineArgs struct {
	ConfigPath string
}

/*
*
[store]
datadir      = data
block_size   = 400
buffer_count = 8
log_file     = simpledb.log
max_wait     = 10s

[logs]
log_error = logs/error.log
log_infos = logs/store.log
log_level = info
*/
type Cfg struct {
	Raw *ini.File

	// store
	DataDir         string `default:"data" yaml:"datadir" json:"datadir,omitempty"`
	BlockSize       int    `default:"400" yaml:"block_size" json:"block_size,omitempty"`
	BufferCount     int    `default:"8" yaml:"buffer_count" json:"buffer_count,omitempty"`
	LogFile         string `default:"simpledb.log" yaml:"log_file" json:"log_file,omitempty"`
	MaxWait         string `default:"10s" yaml:"max_wait" json:"max_wait,omitempty"`
	MaxWaitDuration time.Duration

	// logs
	LogError string `default:"" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos string `default:"" yaml:"log_infos" json:"log_infos,omitempty"`
	LogLevel string `default:"info" yaml:"log_level" json:"log_level,omitempty"`
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:             ini.Empty(),
		DataDir:         "data",
		BlockSize:       store.DefaultBlockSize,
		BufferCount:     store.DefaultBufferCount,
		LogFile:         store.DefaultLogFile,
		MaxWait:         store.DefaultMaxWait.String(),
		MaxWaitDuration: store.DefaultMaxWait,
		LogLevel:        "info",
	}
}

// Load reads the file named by args over the defaults. A missing file keeps the
// defaults; a file that exists but cannot be parsed is an error. Files ending in
// .toml are read as TOML, anything else as INI.
func (cfg *Cfg) Load(args *CommandLineArgs) (*Cfg, error) {
	configFile := DefaultConfigFile
	if args != nil && args.ConfigPath != "" {
		configFile = args.ConfigPath
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		logger.Debugf("配置文件不存在: %s，使用默认配置", configFile)
		return cfg, cfg.validate()
	}

	var err error
	if strings.EqualFold(filepath.Ext(configFile), ".toml") {
		err = cfg.loadToml(configFile)
	} else {
		err = cfg.loadIni(configFile)
	}
	if err != nil {
		return nil, jerrors.Annotatef(err, "load %s", configFile)
	}
	logger.Debugf("成功加载配置文件: %s", configFile)
	return cfg, cfg.validate()
}

func (cfg *Cfg) loadIni(path string) error {
	raw, err := ini.Load(path)
	if err != nil {
		return err
	}
	cfg.Raw = raw
	cfg.parseStoreCfg(raw.Section("store"))
	cfg.parseLogsCfg(raw.Section("logs"))
	return nil
}

func (cfg *Cfg) parseStoreCfg(section *ini.Section) *Cfg {
	cfg.DataDir = valueAsString(section, "datadir", cfg.DataDir)
	cfg.BlockSize = section.Key("block_size").MustInt(cfg.BlockSize)
	cfg.BufferCount = section.Key("buffer_count").MustInt(cfg.BufferCount)
	cfg.LogFile = valueAsString(section, "log_file", cfg.LogFile)
	cfg.MaxWait = valueAsString(section, "max_wait", cfg.MaxWait)
	return cfg
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) *Cfg {
	cfg.LogError = valueAsString(section, "log_error", cfg.LogError)
	cfg.LogInfos = valueAsString(section, "log_infos", cfg.LogInfos)
	cfg.LogLevel = valueAsString(section, "log_level", cfg.LogLevel)
	return cfg
}

func valueAsString(section *ini.Section, keyName string, defaultValue string) string {
	if section == nil {
		return defaultValue
	}
	value := section.Key(keyName).MustString(defaultValue)
	if value == "" {
		value = defaultValue
	}
	return value
}

// loadToml 读取 [store] 和 [logs] 两张表
func (cfg *Cfg) loadToml(path string) error {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return err
	}
	cfg.DataDir = tomlString(tree, "store.datadir", cfg.DataDir)
	cfg.BlockSize = tomlInt(tree, "store.block_size", cfg.BlockSize)
	cfg.BufferCount = tomlInt(tree, "store.buffer_count", cfg.BufferCount)
	cfg.LogFile = tomlString(tree, "store.log_file", cfg.LogFile)
	cfg.MaxWait = tomlString(tree, "store.max_wait", cfg.MaxWait)
	cfg.LogError = tomlString(tree, "logs.log_error", cfg.LogError)
	cfg.LogInfos = tomlString(tree, "logs.log_infos", cfg.LogInfos)
	cfg.LogLevel = tomlString(tree, "logs.log_level", cfg.LogLevel)
	return nil
}

func tomlString(tree *toml.Tree, key, defaultValue string) string {
	if s, ok := tree.Get(key).(string); ok && s != "" {
		return s
	}
	return defaultValue
}

func tomlInt(tree *toml.Tree, key string, defaultValue int) int {
	switch v := tree.Get(key).(type) {
	case int64:
		return int(v)
	case uint64:
		return int(v)
	default:
		return defaultValue
	}
}

func (cfg *Cfg) validate() error {
	d, err := time.ParseDuration(cfg.MaxWait)
	if err != nil {
		return jerrors.NotValidf("max_wait %q", cfg.MaxWait)
	}
	if d <= 0 {
		return jerrors.NotValidf("max_wait %q", cfg.MaxWait)
	}
	cfg.MaxWaitDuration = d
	if cfg.BlockSize < minBlockSize {
		return jerrors.NotValidf("block_size %d", cfg.BlockSize)
	}
	if cfg.BufferCount <= 0 {
		return jerrors.NotValidf("buffer_count %d", cfg.BufferCount)
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	switch cfg.LogLevel {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		logger.Debugf("警告: 无效的日志级别 '%s', 使用默认级别 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	return nil
}

// StoreConfig 转换为存储配置
func (cfg *Cfg) StoreConfig() store.Config {
	return store.Config{
		Dir:         cfg.DataDir,
		BlockSize:   cfg.BlockSize,
		BufferCount: cfg.BufferCount,
		LogFile:     cfg.LogFile,
		MaxWait:     cfg.MaxWaitDuration,
	}
}

// LogConfig 转换为日志配置
func (cfg *Cfg) LogConfig() logger.LogConfig {
	return logger.LogConfig{
		ErrorLogPath: cfg.LogError,
		InfoLogPath:  cfg.LogInfos,
		LogLevel:     cfg.LogLevel,
	}
}

// GetString 获取配置项的字符串值, key形如 "store.datadir"
func (cfg *Cfg) GetString(key string) string {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) < 2 {
		return ""
	}
	return valueAsString(cfg.Raw.Section(parts[0]), parts[1], "")
}
