package cache

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"txcache/pkg/models"
)

const (
	// FAKE_CONFIG marks a storage file whose index was never written.
	FAKE_CONFIG int32 = -1

	// MAX_RECORD_SIZE bounds a single payload read from disk; larger records
	// are skipped instead of allocated.
	MAX_RECORD_SIZE = 256 << 20

	// width, height, format, texture format, pixel type, hires flag, payload size
	RECORD_HEADER_SIZE = 4 + 4 + 4 + 2 + 2 + 1 + 4
	STREAM_HEADER_SIZE = 8 + RECORD_HEADER_SIZE
)

var byteOrder = binary.LittleEndian

var errRecordTooLarge = errors.New("record payload too large")

func putRecordHeader(buf []byte, info *models.TexInfo, dataSize int) {
	byteOrder.PutUint32(buf[0:], uint32(info.Width))
	byteOrder.PutUint32(buf[4:], uint32(info.Height))
	byteOrder.PutUint32(buf[8:], info.Format)
	byteOrder.PutUint16(buf[12:], info.TextureFormat)
	byteOrder.PutUint16(buf[14:], info.PixelType)
	buf[16] = 0
	if info.IsHiresTex {
		buf[16] = 1
	}
	byteOrder.PutUint32(buf[17:], uint32(int32(dataSize)))
}

func parseRecordHeader(buf []byte, info *models.TexInfo) int {
	info.Width = int32(byteOrder.Uint32(buf[0:]))
	info.Height = int32(byteOrder.Uint32(buf[4:]))
	info.Format = byteOrder.Uint32(buf[8:])
	info.TextureFormat = byteOrder.Uint16(buf[12:])
	info.PixelType = byteOrder.Uint16(buf[14:])
	info.IsHiresTex = buf[16] != 0
	return int(int32(byteOrder.Uint32(buf[17:])))
}

// StreamWriter writes the sequential record format used by Save.
type StreamWriter struct {
	w   io.Writer
	buf [STREAM_HEADER_SIZE]byte
}

func NewStreamWriter(w io.Writer, config int32) (*StreamWriter, error) {
	sw := &StreamWriter{w: w}
	byteOrder.PutUint32(sw.buf[:4], uint32(config))
	if _, err := w.Write(sw.buf[:4]); err != nil {
		return nil, err
	}
	return sw, nil
}

// Write appends one record. info.Data is written as is.
func (sw *StreamWriter) Write(checksum models.Checksum, info *models.TexInfo) error {
	byteOrder.PutUint64(sw.buf[0:], uint64(checksum))
	putRecordHeader(sw.buf[8:], info, len(info.Data))
	if _, err := sw.w.Write(sw.buf[:]); err != nil {
		return err
	}
	_, err := sw.w.Write(info.Data)
	return err
}

// StreamReader reads records written by StreamWriter.
type StreamReader struct {
	r       io.Reader
	Config  int32
	buf     [STREAM_HEADER_SIZE]byte
	payload []byte
}

func NewStreamReader(r io.Reader) (*StreamReader, error) {
	sr := &StreamReader{r: r}
	if _, err := io.ReadFull(r, sr.buf[:4]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading stream header: %w", err)
	}
	sr.Config = int32(byteOrder.Uint32(sr.buf[:4]))
	return sr, nil
}

// Next reads the following record into info. info.Data aliases a buffer that
// is reused by the next call. It returns io.EOF at a clean end of stream,
// io.ErrUnexpectedEOF for a truncated record and errRecordTooLarge after
// skipping a payload larger than MAX_RECORD_SIZE.
func (sr *StreamReader) Next(info *models.TexInfo) (models.Checksum, error) {
	if _, err := io.ReadFull(sr.r, sr.buf[:]); err != nil {
		return 0, err
	}
	checksum := models.Checksum(byteOrder.Uint64(sr.buf[0:]))
	dataSize := parseRecordHeader(sr.buf[8:], info)

	if dataSize < 0 {
		return 0, fmt.Errorf("%w: negative payload size %d", ErrCorrupted, dataSize)
	}
	if dataSize > MAX_RECORD_SIZE {
		if _, err := io.CopyN(io.Discard, sr.r, int64(dataSize)); err != nil {
			return 0, io.ErrUnexpectedEOF
		}
		return checksum, errRecordTooLarge
	}

	if cap(sr.payload) < dataSize {
		sr.payload = make([]byte, dataSize)
	}
	sr.payload = sr.payload[:dataSize]
	if _, err := io.ReadFull(sr.r, sr.payload); err != nil {
		return 0, io.ErrUnexpectedEOF
	}
	info.Data = sr.payload
	return checksum, nil
}

// StreamFile is a StreamReader over an open cache file.
type StreamFile struct {
	*StreamReader
	file *os.File
	gz   *gzip.Reader
}

func (s *StreamFile) Close() error {
	if s.gz != nil {
		s.gz.Close()
	}
	return s.file.Close()
}

// OpenStreamFile opens a stream cache file. Gzip wrapped files are detected by
// their magic bytes; anything else is read as a raw stream.
func OpenStreamFile(path string) (*StreamFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(file)
	s := &StreamFile{file: file}
	var r io.Reader = br

	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		s.gz = gz
		r = gz
	}

	s.StreamReader, err = NewStreamReader(r)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// WriteStreamFile writes a gzip wrapped stream file atomically. fill is called
// with a writer positioned after the config header.
func WriteStreamFile(path string, config int32, fill func(sw *StreamWriter) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	bw := bufio.NewWriter(tmp)
	gz := gzip.NewWriter(bw)

	sw, err := NewStreamWriter(gz, config)
	if err == nil {
		err = fill(sw)
	}
	if err == nil {
		err = gz.Close()
	}
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
