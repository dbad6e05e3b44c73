package assemble

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dsnet/compress/bzip2"
)

const (
	// copyChunkSize bounds the buffer used for streaming copies, keeping
	// peak memory constant regardless of payload size.
	copyChunkSize = 256 * 1024

	tarEntryMode = 0o644
)

// tarEpoch is the fixed timestamp stamped on synthesized tar entries so
// repeated builds from identical inputs produce identical archives.
var tarEpoch = time.Unix(0, 0).UTC()

// tarWriter writes one tar archive, optionally bzip2 compressed, with
// deterministic entry metadata.
type tarWriter struct {
	file *os.File
	bz   *bzip2.Writer
	tw   *tar.Writer
}

// newTarWriter creates the archive file at path. With compress set the
// stream is bzip2 encoded.
func newTarWriter(path string, compress bool) (*tarWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create archive %s: %w", path, err)
	}

	w := &tarWriter{file: file}

	if compress {
		w.bz, err = bzip2.NewWriter(file, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("create bzip2 stream: %w", err)
		}

		w.tw = tar.NewWriter(w.bz)
	} else {
		w.tw = tar.NewWriter(file)
	}

	return w, nil
}

// AddFile stores the file at srcPath under arcname.
func (w *tarWriter) AddFile(srcPath, arcname string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", srcPath, err)
	}

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     arcname,
		Mode:     tarEntryMode,
		Size:     info.Size(),
		ModTime:  tarEpoch,
	}
	if err = w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header %s: %w", arcname, err)
	}

	src, err := os.Open(filepath.Clean(srcPath))
	if err != nil {
		return err
	}

	buf := make([]byte, copyChunkSize)
	_, err = io.CopyBuffer(w.tw, src, buf)
	_ = src.Close()

	if err != nil {
		return fmt.Errorf("copy %s into archive: %w", srcPath, err)
	}

	return nil
}

// AddBytes stores data under arcname.
func (w *tarWriter) AddBytes(arcname string, data []byte) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     arcname,
		Mode:     tarEntryMode,
		Size:     int64(len(data)),
		ModTime:  tarEpoch,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header %s: %w", arcname, err)
	}

	if _, err := w.tw.Write(data); err != nil {
		return fmt.Errorf("write %s into archive: %w", arcname, err)
	}

	return nil
}

// AddPlaceholder stores a zero-size entry under arcname.
func (w *tarWriter) AddPlaceholder(arcname string) error {
	return w.AddBytes(arcname, nil)
}

// Close flushes and closes every layer of the archive.
func (w *tarWriter) Close() error {
	if err := w.tw.Close(); err != nil {
		_ = w.file.Close()
		return err
	}

	if w.bz != nil {
		if err := w.bz.Close(); err != nil {
			_ = w.file.Close()
			return err
		}
	}

	return w.file.Close()
}
