// Package outputs manages the image files the engine writes to its output
// directory.
package outputs

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const imageExt = ".png"

var (
	// ErrNotFound is returned when a named image does not exist.
	ErrNotFound = errors.New("image not found")

	// ErrInvalidName is returned for names that are not a plain .png file
	// name inside the output directory.
	ErrInvalidName = errors.New("invalid image name")
)

// Image describes one output file.
type Image struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	SizeHuman string    `json:"size_human"`
	ModTime   time.Time `json:"mod_time"`
}

// Dir is the engine's output directory.
type Dir struct {
	root   string
	logger *slog.Logger
}

// NewDir returns a Dir rooted at root. The directory need not exist yet.
func NewDir(root string, logger *slog.Logger) *Dir {
	return &Dir{root: root, logger: logger}
}

// Root returns the directory path.
func (d *Dir) Root() string {
	return d.root
}

// List returns the images in the directory, newest first.
func (d *Dir) List() ([]Image, error) {
	entries, err := os.ReadDir(d.root)
	if errors.Is(err, fs.ErrNotExist) {
		return []Image{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read output dir: %w", err)
	}

	images := make([]Image, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), imageExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		images = append(images, imageFromInfo(info))
	}

	sort.Slice(images, func(i, j int) bool {
		if images[i].ModTime.Equal(images[j].ModTime) {
			return images[i].Name < images[j].Name
		}
		return images[i].ModTime.After(images[j].ModTime)
	})
	return images, nil
}

// Open opens the named image for reading. The caller closes the file.
func (d *Dir) Open(name string) (*os.File, Image, error) {
	path, err := d.path(name)
	if err != nil {
		return nil, Image{}, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Image{}, ErrNotFound
	}
	if err != nil {
		return nil, Image{}, fmt.Errorf("open image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Image{}, fmt.Errorf("stat image: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, Image{}, ErrNotFound
	}
	return f, imageFromInfo(info), nil
}

// Delete removes the named image.
func (d *Dir) Delete(name string) error {
	path, err := d.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete image: %w", err)
	}
	d.logger.Info("image deleted", "name", name)
	return nil
}

// DeleteAll removes every image and returns how many were removed.
func (d *Dir) DeleteAll() (int, error) {
	images, err := d.List()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, img := range images {
		if err := os.Remove(filepath.Join(d.root, img.Name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return n, fmt.Errorf("delete %s: %w", img.Name, err)
		}
		n++
	}
	d.logger.Info("images deleted", "count", n)
	return n, nil
}

// WriteZip streams every image into a zip archive on w and returns how many
// were written.
func (d *Dir) WriteZip(w io.Writer) (int, error) {
	images, err := d.List()
	if err != nil {
		return 0, err
	}

	zw := zip.NewWriter(w)
	n := 0
	for _, img := range images {
		if err := d.addToZip(zw, img); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			zw.Close()
			return n, err
		}
		n++
	}
	if err := zw.Close(); err != nil {
		return n, fmt.Errorf("finish archive: %w", err)
	}
	return n, nil
}

func (d *Dir) addToZip(zw *zip.Writer, img Image) error {
	f, err := os.Open(filepath.Join(d.root, img.Name))
	if err != nil {
		return err
	}
	defer f.Close()

	// PNG data is already compressed.
	hdr := &zip.FileHeader{Name: img.Name, Method: zip.Store, Modified: img.ModTime}
	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %s to archive: %w", img.Name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("copy %s to archive: %w", img.Name, err)
	}
	return nil
}

// path resolves name inside root, rejecting anything but a plain .png file
// name.
func (d *Dir) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !strings.EqualFold(filepath.Ext(name), imageExt) {
		return "", fmt.Errorf("%w: %q is not a %s file", ErrInvalidName, name, imageExt)
	}

	absRoot, err := filepath.Abs(d.root)
	if err != nil {
		return "", fmt.Errorf("resolve output dir: %w", err)
	}
	full := filepath.Clean(filepath.Join(absRoot, name))
	if !strings.HasPrefix(full, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes output dir", ErrInvalidName, name)
	}
	return full, nil
}

func imageFromInfo(info fs.FileInfo) Image {
	return Image{
		Name:      info.Name(),
		Size:      info.Size(),
		SizeHuman: humanize.Bytes(uint64(info.Size())),
		ModTime:   info.ModTime().UTC(),
	}
}
