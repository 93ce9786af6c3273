// Command logdump inspects the write-ahead log of a store directory without
// opening the store: it never recovers, appends or removes anything.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/golang/snappy"
	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-txstore/server/store"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/file"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/logs"
	"github.com/zhukovaskychina/xmysql-txstore/server/store/recovery"
)

// LogFlags locate the log to inspect.
type LogFlags struct {
	Dir       string `arg:"" help:"Store data directory" type:"existingdir"`
	BlockSize int    `name:"block-size" short:"b" help:"Block size the store was created with" default:"400"`
	LogFile   string `name:"log-file" short:"l" help:"Log file name" default:"simpledb.log"`
}

func (f *LogFlags) open() (*file.FileManager, error) {
	return file.OpenReadOnly(f.Dir, f.BlockSize)
}

// CLI defines the command-line interface for logdump.
var CLI struct {
	Records RecordsCmd `cmd:"" help:"Print log records, newest first"`
	Blocks  BlocksCmd  `cmd:"" help:"Print per-block boundary, record count and xxhash digest"`
	Archive ArchiveCmd `cmd:"" help:"Copy the log file into a snappy-framed archive"`
}

// RecordsCmd prints every decodable record.
type RecordsCmd struct {
	LogFlags
	Tx int `name:"tx" help:"Only records of this transaction" default:"-1"`
}

func (c *RecordsCmd) Run(ctx *kong.Context) error {
	return c.run(ctx.Stdout)
}

func (c *RecordsCmd) run(w io.Writer) error {
	fm, err := c.open()
	if err != nil {
		return err
	}
	defer fm.Close()

	it, err := logs.OpenIterator(fm, c.LogFile)
	if err != nil {
		return err
	}
	n := 0
	for it.HasNext() {
		b, err := it.Next()
		if err != nil {
			if logs.IsCorrupt(err) {
				fmt.Fprintf(w, "-- end of usable log: %v\n", err)
				break
			}
			return err
		}
		rec, err := recovery.DecodeLogRecord(b)
		if err != nil {
			fmt.Fprintf(w, "-- undecodable record in block %d: %v\n", it.Block().Number, err)
			break
		}
		if c.Tx >= 0 && rec.TxNum != c.Tx {
			continue
		}
		fmt.Fprintf(w, "%6d  block %-4d %s\n", n, it.Block().Number, rec)
		n++
	}
	fmt.Fprintf(w, "-- %d records\n", n)
	return nil
}

// BlocksCmd summarizes each log block.
type BlocksCmd struct {
	LogFlags
}

func (c *BlocksCmd) Run(ctx *kong.Context) error {
	return c.run(ctx.Stdout)
}

func (c *BlocksCmd) run(w io.Writer) error {
	fm, err := c.open()
	if err != nil {
		return err
	}
	defer fm.Close()

	size, err := fm.Length(c.LogFile)
	if err != nil {
		return err
	}
	p := file.NewPage(fm.BlockSize())
	for i := 0; i < size; i++ {
		blk := file.NewBlockID(c.LogFile, i)
		if err := fm.Read(blk, p); err != nil {
			return err
		}
		boundary := p.GetInt(0)
		fmt.Fprintf(w, "%-28s boundary %-5d records %-4s xxhash %016x\n",
			blk, boundary, countRecords(p, boundary), p.Checksum())
	}
	fmt.Fprintf(w, "-- %d blocks of %d bytes\n", size, fm.BlockSize())
	return nil
}

// countRecords 统计块内记录数, 布局损坏时返回"?"
func countRecords(p *file.Page, boundary int) string {
	if boundary < file.IntSize || boundary > p.Size() {
		return "?"
	}
	n := 0
	for pos := boundary; pos < p.Size(); n++ {
		if pos+file.IntSize > p.Size() {
			return "?"
		}
		length := p.GetInt(pos)
		if length < 0 || pos+file.IntSize+length > p.Size() {
			return "?"
		}
		pos += file.IntSize + length
	}
	return fmt.Sprint(n)
}

// ArchiveCmd writes a snappy-framed copy of the log file.
type ArchiveCmd struct {
	LogFlags
	Out string `name:"out" short:"o" help:"Archive path (default <log-file>.sz in the working directory)"`
}

func (c *ArchiveCmd) Run(ctx *kong.Context) error {
	return c.run(ctx.Stdout)
}

func (c *ArchiveCmd) run(w io.Writer) error {
	src, err := os.Open(filepath.Join(c.Dir, c.LogFile))
	if err != nil {
		return jerrors.Trace(err)
	}
	defer src.Close()

	out := c.Out
	if out == "" {
		out = c.LogFile + ".sz"
	}
	dst, err := os.Create(out)
	if err != nil {
		return jerrors.Trace(err)
	}
	zw := snappy.NewBufferedWriter(dst)
	n, err := io.Copy(zw, src)
	if err != nil {
		zw.Close()
		dst.Close()
		return jerrors.Annotatef(err, "archive %s", c.LogFile)
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		return jerrors.Trace(err)
	}
	if err := dst.Close(); err != nil {
		return jerrors.Trace(err)
	}
	fmt.Fprintf(w, "archived %d bytes of %s to %s\n", n, c.LogFile, out)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("logdump"),
		kong.Description(fmt.Sprintf("Inspect a store's write-ahead log (default block size %d)", store.DefaultBlockSize)),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run(ctx)
	ctx.FatalIfErrorf(err)
}
