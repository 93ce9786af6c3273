package file

import "fmt"

// EndOfFile is the block number of the sentinel block used to serialize
// size queries and file extension.
const EndOfFile = -1

// BlockID 块地址: 文件名 + 块号
type BlockID struct {
	FileName string
	Number   int
}

// NewBlockID 创建块地址
func NewBlockID(fileName string, number int) BlockID {
	return BlockID{FileName: fileName, Number: number}
}

// EndOfFileBlock returns the sentinel block address of fileName.
func EndOfFileBlock(fileName string) BlockID {
	return BlockID{FileName: fileName, Number: EndOfFile}
}

func (b BlockID) String() string {
	return fmt.Sprintf("[file %s, block %d]", b.FileName, b.Number)
}
