package main

import (
	"fmt"
	"os"

	"github.com/seamoon76/xv6fs"
)

func exportImage(imagePath, archivePath string) error {
	codec, err := xv6fs.CodecForName(archivePath)
	if err != nil {
		return err
	}

	fsys, f, err := openReadOnly(imagePath)
	if err != nil {
		return err
	}
	defer f.Close()

	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer out.Close()

	return fsys.Export(out, codec)
}
