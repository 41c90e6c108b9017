// Command xv6fs is a CLI for inspecting and manipulating xv6fs images.
package main

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/seamoon76/xv6fs"
)

const usage = `xv6fs - xv6 filesystem image tool

Usage:
  xv6fs ls <image> [<path>]            List files in the image
  xv6fs cat <image> <file>             Display the contents of a file
  xv6fs info <image>                   Display superblock information
  xv6fs mkdir <image> <path>           Create a directory
  xv6fs touch <image> <path>           Create an empty regular file
  xv6fs rm <image> <path>              Remove a file or empty directory
  xv6fs export <image> <archive.tar.zst|archive.tar.xz>
                                        Export the image to a compressed tar archive
  xv6fs help                           Show this help message
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error
	switch cmd {
	case "ls":
		if len(os.Args) < 3 {
			err = fmt.Errorf("missing image path")
		} else {
			dirPath := "."
			if len(os.Args) > 3 {
				dirPath = os.Args[3]
			}
			err = listFiles(os.Args[2], dirPath)
		}
	case "cat":
		if len(os.Args) < 4 {
			err = fmt.Errorf("missing image or file path")
		} else {
			err = catFile(os.Args[2], os.Args[3])
		}
	case "info":
		if len(os.Args) < 3 {
			err = fmt.Errorf("missing image path")
		} else {
			err = showInfo(os.Args[2])
		}
	case "mkdir":
		if len(os.Args) < 4 {
			err = fmt.Errorf("missing image or path")
		} else {
			err = withMount(os.Args[2], func(fsys *xv6fs.FS) error {
				_, e := fsys.Mkdir(os.Args[3], nil)
				return e
			})
		}
	case "touch":
		if len(os.Args) < 4 {
			err = fmt.Errorf("missing image or path")
		} else {
			err = withMount(os.Args[2], func(fsys *xv6fs.FS) error {
				_, e := fsys.Create(os.Args[3], nil, xv6fs.KindFile, 0, 0)
				return e
			})
		}
	case "rm":
		if len(os.Args) < 4 {
			err = fmt.Errorf("missing image or path")
		} else {
			err = withMount(os.Args[2], func(fsys *xv6fs.FS) error {
				return fsys.Unlink(os.Args[3], nil)
			})
		}
	case "export":
		if len(os.Args) < 4 {
			err = fmt.Errorf("missing image or archive path")
		} else {
			err = exportImage(os.Args[2], os.Args[3])
		}
	case "help":
		fmt.Println(usage)
	default:
		fmt.Printf("Error: unknown command %q\n", cmd)
		fmt.Println(usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func withMount(imagePath string, fn func(*xv6fs.FS) error) error {
	f, err := os.OpenFile(imagePath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()
	fsys, err := xv6fs.Mount(f)
	if err != nil {
		return fmt.Errorf("mounting image: %w", err)
	}
	return fn(fsys)
}

func openReadOnly(imagePath string) (*xv6fs.FS, *os.File, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening image: %w", err)
	}
	fsys, err := xv6fs.Mount(f, xv6fs.WithReadOnly())
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("mounting image: %w", err)
	}
	return fsys, f, nil
}

func printFileInfo(name string, info fs.FileInfo) {
	typeChar := "-"
	if info.IsDir() {
		typeChar = "d"
	} else if info.Mode()&fs.ModeSymlink != 0 {
		typeChar = "l"
	}
	mode := info.Mode().String()
	permissions := mode[1:]
	size := fmt.Sprintf("%8d", info.Size())
	if info.IsDir() {
		size = "       -"
	}
	fmt.Printf("%s%s %s %s\n", typeChar, permissions, size, name)
}

func listFiles(imagePath, dirPath string) error {
	fsys, f, err := openReadOnly(imagePath)
	if err != nil {
		return err
	}
	defer f.Close()

	root := fsys.Sub()
	if dirPath != "." {
		info, err := fs.Stat(root, dirPath)
		if err != nil {
			return fmt.Errorf("path %q not found: %w", dirPath, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%q is not a directory", dirPath)
		}
	}

	entries, err := fs.ReadDir(root, dirPath)
	if err != nil {
		return fmt.Errorf("reading directory %q: %w", dirPath, err)
	}
	for _, entry := range entries {
		displayPath := entry.Name()
		if dirPath != "." {
			displayPath = dirPath + "/" + entry.Name()
		}
		info, err := entry.Info()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to stat %q: %s\n", displayPath, err)
			continue
		}
		printFileInfo(displayPath, info)
	}
	return nil
}

func catFile(imagePath, filePath string) error {
	fsys, f, err := openReadOnly(imagePath)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := fs.ReadFile(fsys.Sub(), filePath)
	if err != nil {
		return fmt.Errorf("reading %q: %w", filePath, err)
	}
	_, err = os.Stdout.Write(data)
	return err
}

func showInfo(imagePath string) error {
	fsys, f, err := openReadOnly(imagePath)
	if err != nil {
		return err
	}
	defer f.Close()

	sb := fsys.SuperblockSnapshot()
	fmt.Println("xv6fs image information")
	fmt.Println("=======================")
	fmt.Printf("Total blocks:     %d\n", sb.Size)
	fmt.Printf("Data blocks:      %d\n", sb.NBlocks)
	fmt.Printf("Inode slots:      %d\n", sb.NInodes)
	fmt.Printf("Log blocks:       %d\n", sb.NLog)
	fmt.Printf("Free inodes:      %d\n", sb.FreeInodes)
	fmt.Printf("Free blocks:      %d\n", sb.FreeBlocks)
	return nil
}
