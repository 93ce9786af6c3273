package buffer_pool

import (
	"errors"

	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-txstore/server/store/file"
)

var (
	// ErrBufferAbort 在等待超时后仍无可用缓冲, 调用方必须回滚事务
	ErrBufferAbort = errors.New("buffer pool exhausted: no unpinned buffer within the wait limit")
	// ErrInvalidConfig 缓冲池配置非法
	ErrInvalidConfig = errors.New("invalid buffer pool configuration")
)

// BufferPoolError 缓冲池错误结构
type BufferPoolError struct {
	Op    string       // 操作名称
	Block file.BlockID // 相关的块
	Err   error        // 原始错误
}

func (e *BufferPoolError) Error() string {
	if e.Err == nil {
		return "<nil>"
	}
	return e.Op + " " + e.Block.String() + ": " + e.Err.Error()
}

func (e *BufferPoolError) Unwrap() error {
	return e.Err
}

// NewError 创建新的缓冲池错误
func NewError(op string, blk file.BlockID, err error) error {
	return &BufferPoolError{Op: op, Block: blk, Err: err}
}

// IsBufferAbort 检查是否为缓冲等待超时错误
func IsBufferAbort(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrBufferAbort) || errors.Is(jerrors.Cause(err), ErrBufferAbort)
}
