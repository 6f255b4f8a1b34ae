// mkfs packs a directory of files into a fresh easy filesystem image, the
// way the kernel build packs user programs before boot.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rvos-dev/rvcore/bcache"
	"github.com/rvos-dev/rvcore/common"
	"github.com/rvos-dev/rvcore/disk"
	"github.com/rvos-dev/rvcore/efs"
	"github.com/rvos-dev/rvcore/util"
)

func main() {
	var (
		img    = flag.String("img", "fs.img", "image file to create")
		src    = flag.String("src", "", "directory whose files populate the image root")
		blocks = flag.Uint64("blocks", 16384, "image size in 512-byte blocks")
		ibb    = flag.Uint64("inode-bitmap-blocks", 1, "blocks of inode allocation bitmap")
		debug  = flag.Uint64("debug", 0, "debug verbosity")
	)
	flag.Parse()
	util.SetDebug(*debug)

	dev, err := disk.NewFileDisk(*img, *blocks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: open %s: %v\n", *img, err)
		os.Exit(1)
	}
	defer dev.Close()

	cache := bcache.MkManager(dev)
	fs := efs.Create(cache, uint32(*blocks), uint32(*ibb))
	root := fs.RootInode()

	if *src == "" {
		fmt.Printf("mkfs: created empty image %s (%d blocks)\n", *img, *blocks)
		return
	}

	entries, err := os.ReadDir(*src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: read %s: %v\n", *src, err)
		os.Exit(1)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if uint64(len(name)) > common.NAMELEN {
			fmt.Fprintf(os.Stderr, "mkfs: skip %s: name longer than %d chars\n",
				name, common.NAMELEN)
			continue
		}
		data, err := os.ReadFile(filepath.Join(*src, name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "mkfs: read %s: %v\n", name, err)
			os.Exit(1)
		}
		ino := root.Create(name)
		if ino == nil {
			fmt.Fprintf(os.Stderr, "mkfs: duplicate name %s\n", name)
			os.Exit(1)
		}
		if n := ino.WriteAt(0, data); n != uint64(len(data)) {
			fmt.Fprintf(os.Stderr, "mkfs: short write for %s (%d of %d)\n",
				name, n, len(data))
			os.Exit(1)
		}
		util.DPrintf(1, "mkfs: packed %s (%d bytes)\n", name, len(data))
	}
	fmt.Printf("mkfs: packed %d entries into %s\n", len(root.Ls()), *img)
}
