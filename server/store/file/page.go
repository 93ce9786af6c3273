package file

import (
	"encoding/binary"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-txstore/util"
)

// IntSize 整数在页面中占用的字节数
const IntSize = 4

// ErrOutOfRange 偏移或长度超出页面
var ErrOutOfRange = errors.New("value out of page range")

// IsOutOfRange 检查是否为越界错误
func IsOutOfRange(err error) bool {
	return err != nil && errors.Cause(err) == ErrOutOfRange
}

// Page holds the contents of one block. Integers are 4-byte big-endian; byte arrays
// and strings are stored as a 4-byte length followed by the bytes. Strings use a
// single byte per character (US-ASCII).
type Page struct {
	buf []byte
}

// NewPage 创建一个块大小的页面
func NewPage(blockSize int) *Page {
	return &Page{buf: make([]byte, blockSize)}
}

// NewPageFromBytes wraps b without copying; used for log records.
func NewPageFromBytes(b []byte) *Page {
	return &Page{buf: b}
}

// GetInt 读取offset处的整数
func (p *Page) GetInt(offset int) int {
	return int(int32(binary.BigEndian.Uint32(p.buf[offset:])))
}

// SetInt 在offset处写入整数
func (p *Page) SetInt(offset int, n int) {
	binary.BigEndian.PutUint32(p.buf[offset:], uint32(int32(n)))
}

// GetBytes 读取offset处带长度前缀的字节数组
func (p *Page) GetBytes(offset int) []byte {
	length := p.GetInt(offset)
	start := offset + IntSize
	b := make([]byte, length)
	copy(b, p.buf[start:start+length])
	return b
}

// SetBytes 在offset处写入长度前缀和字节数组
func (p *Page) SetBytes(offset int, b []byte) {
	p.SetInt(offset, len(b))
	copy(p.buf[offset+IntSize:offset+IntSize+len(b)], b)
}

// GetString 读取offset处的字符串
func (p *Page) GetString(offset int) string {
	return string(p.GetBytes(offset))
}

// SetString stores s at offset. Characters outside US-ASCII are written as '?'.
func (p *Page) SetString(offset int, s string) {
	p.SetBytes(offset, EncodeASCII(s))
}

// CheckInt verifies that an int at offset lies inside the page.
func (p *Page) CheckInt(offset int) error {
	if offset < 0 || offset+IntSize > len(p.buf) {
		return errors.Annotatef(ErrOutOfRange, "int at %d in %d-byte page", offset, len(p.buf))
	}
	return nil
}

// CheckBytes verifies that the length prefix stored at offset describes bytes
// inside the page, so GetBytes and GetString at offset are safe.
func (p *Page) CheckBytes(offset int) error {
	if err := p.CheckInt(offset); err != nil {
		return err
	}
	length := p.GetInt(offset)
	if length < 0 || offset+IntSize+length > len(p.buf) {
		return errors.Annotatef(ErrOutOfRange, "length %d at %d in %d-byte page", length, offset, len(p.buf))
	}
	return nil
}

// CheckFits verifies that n bytes and their length prefix fit at offset.
func (p *Page) CheckFits(offset, n int) error {
	if offset < 0 || n < 0 || offset+IntSize+n > len(p.buf) {
		return errors.Annotatef(ErrOutOfRange, "%d bytes at %d in %d-byte page", n, offset, len(p.buf))
	}
	return nil
}

// Contents exposes the backing array for file I/O.
func (p *Page) Contents() []byte {
	return p.buf
}

// Size 页面字节数
func (p *Page) Size() int {
	return len(p.buf)
}

// Checksum is the xxhash64 digest of the page contents. It is never stored on disk.
func (p *Page) Checksum() uint64 {
	return util.HashCode(p.buf)
}

// MaxLength returns the worst-case encoded size of a string of strlen characters.
func MaxLength(strlen int) int {
	const bytesPerChar = 1
	return IntSize + strlen*bytesPerChar
}

// EncodeASCII converts s to one byte per rune, replacing non-ASCII runes with '?'.
func EncodeASCII(s string) []byte {
	b := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 127 {
			r = '?'
		}
		b = append(b, byte(r))
	}
	return b
}
