// Package archive reads image entries out of an uploaded zip file without extracting it to disk.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	ErrEmptyArchive    = errors.New("archive contains no images")
	ErrArchiveTooLarge = errors.New("archive exceeds size limit")
	ErrTooManyEntries  = errors.New("archive has too many images")
	ErrUnsafeEntry     = errors.New("archive entry has an unsafe path")
	ErrCorruptArchive  = errors.New("invalid zip archive")
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Limits bounds what Read will accept. Zero fields mean no limit.
type Limits struct {
	MaxEntries    int
	MaxTotalBytes int64
	MaxEntryBytes int64
}

// Entry is one image read from an archive.
type Entry struct {
	Name string // base file name
	Path string // full path inside the archive
	Data []byte
}

// IsImageName reports whether name has a supported image extension.
func IsImageName(name string) bool {
	return imageExtensions[strings.ToLower(path.Ext(name))]
}

// Read returns the image entries of a zip archive in archive order.
func Read(data []byte, limits Limits) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	var entries []Entry
	var total int64

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || ignored(f.Name) || !IsImageName(f.Name) {
			continue
		}
		if !safeName(f.Name) {
			return nil, fmt.Errorf("%w: %q", ErrUnsafeEntry, f.Name)
		}
		if limits.MaxEntries > 0 && len(entries) >= limits.MaxEntries {
			return nil, fmt.Errorf("%w: more than %d", ErrTooManyEntries, limits.MaxEntries)
		}

		content, err := readEntry(f, limits.MaxEntryBytes)
		if err != nil {
			return nil, err
		}

		total += int64(len(content))
		if limits.MaxTotalBytes > 0 && total > limits.MaxTotalBytes {
			return nil, fmt.Errorf("%w: more than %d bytes uncompressed", ErrArchiveTooLarge, limits.MaxTotalBytes)
		}

		entries = append(entries, Entry{
			Name: path.Base(f.Name),
			Path: f.Name,
			Data: content,
		})
	}

	if len(entries) == 0 {
		return nil, ErrEmptyArchive
	}
	return entries, nil
}

func readEntry(f *zip.File, max int64) ([]byte, error) {
	if max > 0 && f.UncompressedSize64 > uint64(max) {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrArchiveTooLarge, f.Name, f.UncompressedSize64)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, f.Name, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if max > 0 {
		// The header size can lie; never read past the limit.
		r = io.LimitReader(rc, max+1)
	}

	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, f.Name, err)
	}
	if max > 0 && int64(len(content)) > max {
		return nil, fmt.Errorf("%w: %s", ErrArchiveTooLarge, f.Name)
	}
	return content, nil
}

// ignored filters macOS resource forks and hidden files.
func ignored(name string) bool {
	if strings.HasPrefix(name, "__MACOSX/") {
		return true
	}
	return strings.HasPrefix(path.Base(name), ".")
}

func safeName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
