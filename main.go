package main

import (
	"flag"
	"fmt"

	"github.com/zhukovaskychina/xmysql-txstore/logger"
	"github.com/zhukovaskychina/xmysql-txstore/server/conf"
	"github.com/zhukovaskychina/xmysql-txstore/server/store"
)

const help = `
******************************************************************************************
*  xmysql-txstore: transactional page store
*帮助:
*1. -- help
*2. -- configPath   指定store.ini或store.toml配置文件
******************************************************************************************
`

// main opens the store, which creates the directory or recovers the existing
// database, reports its state and closes it again.
func main() {
	var configPath string
	var showHelp bool
	flag.StringVar(&configPath, "configPath", "", "配置文件路径")
	flag.BoolVar(&showHelp, "help", false, "显示帮助")
	flag.Parse()

	if showHelp {
		fmt.Print(help)
		return
	}

	config, err := conf.NewCfg().Load(&conf.CommandLineArgs{ConfigPath: configPath})
	if err != nil {
		logger.Fatalf("加载配置失败: %v", err)
	}

	if err := logger.InitLogger(config.LogConfig()); err != nil {
		logger.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Infof("Logger initialized successfully with level: %s", config.LogLevel)

	s, err := store.Open(config.StoreConfig())
	if err != nil {
		logger.Fatalf("open store %s: %v", config.DataDir, err)
	}

	cfg := s.Config()
	fstats := s.FileManager().Stats()
	logger.Infof("store ready: dir=%s block_size=%d buffers=%d available=%d log_block=%s",
		cfg.Dir, cfg.BlockSize, cfg.BufferCount, s.BufferPool().Available(), s.LogManager().CurrentBlock())
	logger.Infof("io: %d blocks read, %d blocks written", fstats.BlocksRead, fstats.BlocksWritten)

	if err := s.Close(); err != nil {
		logger.Fatalf("close store: %v", err)
	}
}
