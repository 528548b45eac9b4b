// Package archive unpacks downloaded solver artifacts.
//
// Extract detects the container from the file's leading bytes instead of its
// name, because download URLs and redirect targets do not always carry a
// usable extension. Anything it does not recognise is reported as
// NotAnArchive so the caller can treat the file as a standalone executable.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Result tells the caller what Extract did with the file.
type Result int

const (
	// Extracted means the archive was unpacked into the destination.
	Extracted Result = iota
	// NotAnArchive means the file was left alone because it is not a
	// recognised archive. The destination is not created.
	NotAnArchive
)

func (r Result) String() string {
	switch r {
	case Extracted:
		return "extracted"
	case NotAnArchive:
		return "not an archive"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Format is a detected container format.
type Format string

const (
	FormatUnknown Format = ""
	FormatZip     Format = "zip"
	FormatTar     Format = "tar"
	FormatTarGz   Format = "tar.gz"
	FormatTarBz2  Format = "tar.bz2"
	FormatTarXz   Format = "tar.xz"
	FormatTarZst  Format = "tar.zst"
)

var (
	magicZip   = []byte("PK\x03\x04")
	magicGzip  = []byte{0x1f, 0x8b}
	magicBzip2 = []byte("BZh")
	magicXz    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	magicZstd  = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// tarMagicOffset is where "ustar" sits in a POSIX tar header.
const tarMagicOffset = 257

// Detect reads the head of path and returns its container format.
func Detect(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer f.Close()

	head := make([]byte, tarMagicOffset+5)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatUnknown, err
	}
	return detect(head[:n]), nil
}

func detect(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, magicZip):
		return FormatZip
	case bytes.HasPrefix(head, magicGzip):
		return FormatTarGz
	case bytes.HasPrefix(head, magicBzip2):
		return FormatTarBz2
	case bytes.HasPrefix(head, magicXz):
		return FormatTarXz
	case bytes.HasPrefix(head, magicZstd):
		return FormatTarZst
	case len(head) >= tarMagicOffset+5 && string(head[tarMagicOffset:tarMagicOffset+5]) == "ustar":
		return FormatTar
	default:
		return FormatUnknown
	}
}

// Extract unpacks archivePath into destDir. A compressed stream that does not
// contain a tar archive is also reported as NotAnArchive. Errors are I/O or
// corruption failures.
func Extract(archivePath, destDir string) (Result, error) {
	format, err := Detect(archivePath)
	if err != nil {
		return NotAnArchive, fmt.Errorf("open archive: %w", err)
	}

	switch format {
	case FormatZip:
		return Extracted, extractZip(archivePath, destDir)
	case FormatUnknown:
		return NotAnArchive, nil
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return NotAnArchive, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	var stream io.Reader
	switch format {
	case FormatTar:
		stream = file
	case FormatTarGz:
		gz, err := gzip.NewReader(file)
		if err != nil {
			return NotAnArchive, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		stream = gz
	case FormatTarBz2:
		stream = bzip2.NewReader(file)
	case FormatTarXz:
		xr, err := xz.NewReader(file)
		if err != nil {
			return NotAnArchive, fmt.Errorf("xz reader: %w", err)
		}
		stream = xr
	case FormatTarZst:
		zr, err := zstd.NewReader(file)
		if err != nil {
			return NotAnArchive, fmt.Errorf("zstd reader: %w", err)
		}
		defer zr.Close()
		stream = zr
	}

	buffered := bufio.NewReader(stream)
	if !looksLikeTar(buffered) {
		return NotAnArchive, nil
	}
	return Extracted, untarStream(buffered, destDir)
}

// looksLikeTar peeks at the first header block of a decompressed stream.
func looksLikeTar(r *bufio.Reader) bool {
	head, _ := r.Peek(tarMagicOffset + 5)
	return detect(head) == FormatTar
}

// safeJoin resolves name inside dest and rejects entries escaping it.
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes the destination", name)
	}
	return target, nil
}

func extractZip(archivePath, dest string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("prepare extract dir: %w", err)
	}

	for _, file := range reader.File {
		target, err := safeJoin(dest, file.Name)
		if err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("prepare file %s: %w", target, err)
		}
		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %s: %w", file.Name, err)
		}
		err = writeFile(target, rc, fileMode(file.Mode()))
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func untarStream(r io.Reader, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("prepare extract dir: %w", err)
	}

	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}
		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("prepare file %s: %w", target, err)
			}
			if err := writeFile(target, tr, fileMode(os.FileMode(header.Mode))); err != nil {
				return err
			}
		case tar.TypeSymlink:
			// Solver bundles link shared libraries next to each other.
			if filepath.IsAbs(header.Linkname) {
				return fmt.Errorf("archive entry %q links outside the destination", header.Name)
			}
			if _, err := safeJoin(dest, filepath.Join(filepath.Dir(header.Name), header.Linkname)); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("prepare link %s: %w", target, err)
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("create link %s: %w", target, err)
			}
		default:
			// Ignore other entry types.
		}
	}
	return nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create file %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write file %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close file %s: %w", target, err)
	}
	return nil
}

// fileMode keeps the permission bits and guarantees the owner can read and
// write the extracted file.
func fileMode(m os.FileMode) os.FileMode {
	return m.Perm() | 0o600
}
