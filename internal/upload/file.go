package upload

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"sync"

	"github.com/target/docflow/internal/domain/model"
)

// sniffLen is how much of a file is read for type detection.
const sniffLen = 3072

// FromPath describes a local file. The file is reopened when uploaded.
func FromPath(path string) (model.File, error) {
	st, err := os.Stat(path)
	if err != nil {
		return model.File{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.IsDir() {
		return model.File{}, fmt.Errorf("%s is a directory", path)
	}

	head, err := readHead(func() (io.ReadCloser, error) { return os.Open(path) })
	if err != nil {
		return model.File{}, err
	}
	name := filepath.Base(path)
	return model.File{
		Name: name,
		Size: st.Size(),
		Type: DetectType(name, "", head),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// FromMultipart copies an uploaded form file into a spool file in dir so it
// outlives the request. The declared part type is trusted unless it is
// missing or generic. The spool file is deleted by the returned file's
// Release.
func FromMultipart(fh *multipart.FileHeader, dir string) (model.File, error) {
	src, err := fh.Open()
	if err != nil {
		return model.File{}, fmt.Errorf("open part: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dir, "docflow-upload-*")
	if err != nil {
		return model.File{}, fmt.Errorf("create spool file: %w", err)
	}
	path := tmp.Name()
	release := sync.OnceFunc(func() { _ = os.Remove(path) })

	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		release()
		return model.File{}, fmt.Errorf("spool %s: %w", fh.Filename, err)
	}

	open := func() (io.ReadCloser, error) { return os.Open(path) }
	head, err := readHead(open)
	if err != nil {
		release()
		return model.File{}, err
	}

	name := filepath.Base(fh.Filename)
	return model.File{
		Name:    name,
		Size:    n,
		Type:    DetectType(name, fh.Header.Get("Content-Type"), head),
		Open:    open,
		Release: release,
	}, nil
}

func readHead(open func() (io.ReadCloser, error)) ([]byte, error) {
	rc, err := open()
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer rc.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("read: %w", err)
	}
	return head[:n], nil
}
