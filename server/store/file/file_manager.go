package file

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-txstore/logger"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/latch"
	"github.com/zhukovaskychina/xmysql-txstore/util"
)

// TempFilePrefix 临时表文件前缀, 启动时删除
const TempFilePrefix = "temp"

// FileManager maps blocks to byte ranges of the OS files under one directory.
// Every operation runs under a single latch.
type FileManager struct {
	latch     *latch.Latch
	dbDir     string
	blockSize int
	isNew     bool
	readOnly  bool
	openFiles map[string]*os.File // 已打开的文件

	blocksRead    uint64
	blocksWritten uint64
}

// ErrReadOnly 只读模式下不允许写入
var ErrReadOnly = errors.New("file manager is read-only")

// FileStats 文件读写统计
type FileStats struct {
	BlocksRead    uint64
	BlocksWritten uint64
}

// NewFileManager opens dbDir, creating it when absent. An existing directory is
// cleared of leftover temporary table files.
func NewFileManager(dbDir string, blockSize int) (*FileManager, error) {
	if blockSize <= IntSize {
		return nil, errors.Errorf("block size %d too small", blockSize)
	}
	created, err := util.EnsureDir(dbDir)
	if err != nil {
		return nil, errors.Annotatef(err, "cannot open database directory %s", dbDir)
	}
	if !created {
		removed, err := util.RemoveFilesWithPrefix(dbDir, TempFilePrefix)
		if err != nil {
			return nil, errors.Annotatef(err, "cannot remove temporary files in %s", dbDir)
		}
		for _, name := range removed {
			logger.Debugf("removed leftover temporary file %s", name)
		}
	}
	return &FileManager{
		latch:     latch.NewLatch(),
		dbDir:     dbDir,
		blockSize: blockSize,
		isNew:     created,
		openFiles: make(map[string]*os.File),
	}, nil
}

// OpenReadOnly opens an existing database directory for inspection. Nothing is
// created or removed and Write and Append fail with ErrReadOnly.
func OpenReadOnly(dbDir string, blockSize int) (*FileManager, error) {
	if blockSize <= IntSize {
		return nil, errors.Errorf("block size %d too small", blockSize)
	}
	exists, err := util.PathExists(dbDir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !exists {
		return nil, errors.NotFoundf("database directory %s", dbDir)
	}
	return &FileManager{
		latch:     latch.NewLatch(),
		dbDir:     dbDir,
		blockSize: blockSize,
		readOnly:  true,
		openFiles: make(map[string]*os.File),
	}, nil
}

// Read copies the contents of blk into p. Bytes beyond the end of the file read as zero.
func (fm *FileManager) Read(blk BlockID, p *Page) error {
	fm.latch.Lock()
	defer fm.latch.Unlock()

	f, err := fm.getFile(blk.FileName)
	if err != nil {
		return err
	}
	buf := p.Contents()
	n, err := f.ReadAt(buf, fm.offset(blk))
	if err != nil && err != io.EOF {
		return errors.Annotatef(err, "cannot read block %s", blk)
	}
	// 文件末尾之后的部分清零
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	atomic.AddUint64(&fm.blocksRead, 1)
	return nil
}

// Write copies p into blk and syncs the file.
func (fm *FileManager) Write(blk BlockID, p *Page) error {
	fm.latch.Lock()
	defer fm.latch.Unlock()

	if fm.readOnly {
		return errors.Annotatef(ErrReadOnly, "write %s", blk)
	}
	f, err := fm.getFile(blk.FileName)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(p.Contents(), fm.offset(blk)); err != nil {
		return errors.Annotatef(err, "cannot write block %s", blk)
	}
	if err := f.Sync(); err != nil {
		return errors.Annotatef(err, "cannot sync block %s", blk)
	}
	atomic.AddUint64(&fm.blocksWritten, 1)
	return nil
}

// Append extends fileName by one zero-filled block and returns its address.
// The new block number is the file's block count before the call.
func (fm *FileManager) Append(fileName string) (BlockID, error) {
	fm.latch.Lock()
	defer fm.latch.Unlock()

	if fm.readOnly {
		return BlockID{}, errors.Annotatef(ErrReadOnly, "append %s", fileName)
	}
	n, err := fm.length(fileName)
	if err != nil {
		return BlockID{}, err
	}
	blk := NewBlockID(fileName, n)
	f, err := fm.getFile(fileName)
	if err != nil {
		return BlockID{}, err
	}
	if _, err := f.WriteAt(make([]byte, fm.blockSize), fm.offset(blk)); err != nil {
		return BlockID{}, errors.Annotatef(err, "cannot append block %s", blk)
	}
	if err := f.Sync(); err != nil {
		return BlockID{}, errors.Annotatef(err, "cannot sync block %s", blk)
	}
	atomic.AddUint64(&fm.blocksWritten, 1)
	return blk, nil
}

// Length returns the number of blocks in fileName.
func (fm *FileManager) Length(fileName string) (int, error) {
	fm.latch.Lock()
	defer fm.latch.Unlock()
	return fm.length(fileName)
}

func (fm *FileManager) length(fileName string) (int, error) {
	f, err := fm.getFile(fileName)
	if err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, errors.Annotatef(err, "cannot access %s", fileName)
	}
	return int(info.Size() / int64(fm.blockSize)), nil
}

// IsNew reports whether the database directory was created by this manager.
func (fm *FileManager) IsNew() bool {
	return fm.isNew
}

// BlockSize 块大小
func (fm *FileManager) BlockSize() int {
	return fm.blockSize
}

// Dir 数据库目录
func (fm *FileManager) Dir() string {
	return fm.dbDir
}

// Stats 返回读写统计
func (fm *FileManager) Stats() FileStats {
	return FileStats{
		BlocksRead:    atomic.LoadUint64(&fm.blocksRead),
		BlocksWritten: atomic.LoadUint64(&fm.blocksWritten),
	}
}

// Close closes every open file handle. The manager must not be used afterwards.
func (fm *FileManager) Close() error {
	fm.latch.Lock()
	defer fm.latch.Unlock()

	var firstErr error
	for name, f := range fm.openFiles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = errors.Annotatef(err, "cannot close %s", name)
		}
		delete(fm.openFiles, name)
	}
	return firstErr
}

func (fm *FileManager) offset(blk BlockID) int64 {
	return int64(blk.Number) * int64(fm.blockSize)
}

// getFile 获取已打开的文件, 不存在则创建; 调用方持有latch
func (fm *FileManager) getFile(fileName string) (*os.File, error) {
	if f, ok := fm.openFiles[fileName]; ok {
		return f, nil
	}
	flag := os.O_RDWR | os.O_CREATE
	if fm.readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(filepath.Join(fm.dbDir, fileName), flag, 0644)
	if err != nil {
		return nil, errors.Annotatef(err, "cannot open %s", fileName)
	}
	fm.openFiles[fileName] = f
	return f, nil
}

var (
	tempMu      sync.Mutex
	nextTempNum int
)

// NextTempTableName returns temp1, temp2, ... unique within the process.
// Files with these names never survive a restart.
func NextTempTableName() string {
	tempMu.Lock()
	defer tempMu.Unlock()
	nextTempNum++
	return TempFilePrefix + strconv.Itoa(nextTempNum)
}
