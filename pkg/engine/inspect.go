package engine

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"txcache/pkg/cache"
	"txcache/pkg/cachemanager"
	"txcache/pkg/models"
)

// Inspect prints one line per record of a cache file. Storage files are
// recognised by their name suffix; anything else is read as a stream file.
func Inspect(path string, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECKSUM\tWIDTH\tHEIGHT\tFORMAT\tGZ\tHIRES\tSIZE")

	var (
		count int
		total uint64
		err   error
	)
	if strings.HasSuffix(path, cachemanager.STORAGE_SUFFIX) {
		count, total, err = inspectStorage(path, tw)
	} else {
		count, total, err = inspectStream(path, tw)
	}
	if err != nil {
		return err
	}

	if err := tw.Flush(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%d entries, %s\n", count, humanize.IBytes(total))
	return err
}

func writeRecord(w io.Writer, checksum models.Checksum, info *models.TexInfo, size int) {
	fmt.Fprintf(w, "%s\t%d\t%d\t%#x\t%t\t%t\t%s\n",
		checksum, info.Width, info.Height, info.Format&models.FORMAT_MASK,
		info.Compressed(), info.IsHiresTex, humanize.IBytes(uint64(size)))
}

func inspectStream(path string, w io.Writer) (int, uint64, error) {
	stream, err := cache.OpenStreamFile(path)
	if err != nil {
		return 0, 0, err
	}
	defer stream.Close()
	fmt.Fprintf(w, "# config %d\n", stream.Config)

	var (
		info  models.TexInfo
		count int
		total uint64
	)
	for {
		checksum, err := stream.Next(&info)
		if errors.Is(err, io.EOF) {
			return count, total, nil
		}
		if err != nil {
			return count, total, fmt.Errorf("record %d: %w", count+1, err)
		}
		writeRecord(w, checksum, &info, len(info.Data))
		count++
		total += uint64(len(info.Data))
	}
}

func inspectStorage(path string, w io.Writer) (int, uint64, error) {
	dir, name := filepath.Split(path)
	storage := cache.NewFileStorage(models.FILE_CACHE, dir, name, nil, nil)
	defer storage.Close()

	if err := storage.Load(dir, name, 0, true); err != nil {
		return 0, 0, err
	}

	var count int
	for _, checksum := range storage.Checksums() {
		info, size, err := storage.Header(checksum)
		if err != nil {
			return count, storage.TotalSize(), err
		}
		writeRecord(w, checksum, &info, size)
		count++
	}
	return count, storage.TotalSize(), nil
}
