// Package store wires the file manager, log, buffer pool and lock table into a
// transactional page store and runs crash recovery when an existing database is
// opened.
package store

import (
	"time"

	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-txstore/logger"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/buffer_pool"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/concurrency"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/file"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/logs"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/recovery"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/tx"
)

// 默认配置
const (
	DefaultBlockSize   = 400
	DefaultBufferCount = 8
	DefaultLogFile     = "simpledb.log"
	DefaultMaxWait     = 10 * time.Second
)

// Config 存储配置
type Config struct {
	Dir         string        // 数据目录
	BlockSize   int           // 块大小
	BufferCount int           // 缓冲数
	LogFile     string        // 日志文件名
	MaxWait     time.Duration // 缓冲和锁的最长等待时间
}

// DefaultConfig 返回dir下的默认配置
func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		BlockSize:   DefaultBlockSize,
		BufferCount: DefaultBufferCount,
		LogFile:     DefaultLogFile,
		MaxWait:     DefaultMaxWait,
	}
}

func (c *Config) applyDefaults() {
	if c.BlockSize == 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.BufferCount == 0 {
		c.BufferCount = DefaultBufferCount
	}
	if c.LogFile == "" {
		c.LogFile = DefaultLogFile
	}
	if c.MaxWait == 0 {
		c.MaxWait = DefaultMaxWait
	}
}

// Store owns the components shared by all transactions.
type Store struct {
	cfg Config
	fm  *file.FileManager
	lm  *logs.LogManager
	bp  *buffer_pool.BufferPool
	lt  *concurrency.LockTable
}

// Open creates the database directory, or recovers the database found in it,
// and returns a store ready for new transactions.
func Open(cfg Config) (*Store, error) {
	cfg.applyDefaults()
	if cfg.Dir == "" {
		return nil, jerrors.NotValidf("empty data directory")
	}

	fm, err := file.NewFileManager(cfg.Dir, cfg.BlockSize)
	if err != nil {
		return nil, jerrors.Annotatef(err, "open %s", cfg.Dir)
	}
	s := &Store{cfg: cfg, fm: fm}
	if err := s.init(); err != nil {
		fm.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	var err error
	if s.lm, err = logs.NewLogManager(s.fm, s.cfg.LogFile); err != nil {
		return jerrors.Annotate(err, "open log")
	}
	if s.bp, err = buffer_pool.NewBufferPool(s.fm, s.lm, s.cfg.BufferCount, s.cfg.MaxWait); err != nil {
		return err
	}
	s.lt = concurrency.NewLockTable(s.cfg.MaxWait)

	// 事务号从日志中最大的事务号之后继续
	maxTx, err := recovery.MaxTxNumber(s.lm)
	if err != nil {
		return jerrors.Annotate(err, "scan log")
	}
	tx.SeedTxNumber(maxTx)

	if s.fm.IsNew() {
		logger.Infof("creating new database in %s", s.cfg.Dir)
		return nil
	}
	logger.Infof("recovering existing database in %s", s.cfg.Dir)
	t, err := s.NewTransaction()
	if err != nil {
		return err
	}
	if err := t.Recover(); err != nil {
		return jerrors.Annotate(err, "recover")
	}
	logger.Infof("recovery complete, last log block %s", s.lm.CurrentBlock())
	return nil
}

// NewTransaction starts a transaction against the store.
func (s *Store) NewTransaction() (*tx.Transaction, error) {
	return tx.NewTransaction(s.fm, s.lm, s.bp, s.lt)
}

// Config 返回生效的配置
func (s *Store) Config() Config {
	return s.cfg
}

// FileManager 文件管理器
func (s *Store) FileManager() *file.FileManager {
	return s.fm
}

// LogManager 日志管理器
func (s *Store) LogManager() *logs.LogManager {
	return s.lm
}

// BufferPool 缓冲池
func (s *Store) BufferPool() *buffer_pool.BufferPool {
	return s.bp
}

// LockTable 锁表
func (s *Store) LockTable() *concurrency.LockTable {
	return s.lt
}

// Close flushes the log and closes every open file. Transactions still running
// are abandoned; the next Open rolls them back.
func (s *Store) Close() error {
	if err := s.lm.Flush(s.lm.LatestLSN()); err != nil {
		s.fm.Close()
		return err
	}
	return s.fm.Close()
}
