// Package reader opens an Appian package export (ZIP) and enumerates its
// object XML entries in deterministic order. Any validation failure is
// fatal for the owning package; there are no partial reads.
package reader

import (
	"archive/zip"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"appmerge/internal/types"
)

// Entry is one object XML file pulled out of a package archive.
type Entry struct {
	Type     types.ObjectType
	Dir      string
	FileName string
	Data     []byte
}

// Reader validates and decomposes package archives.
type Reader struct {
	maxSize int64
	logger  *zap.Logger
}

// New creates a Reader with the given size cap in bytes.
func New(maxSize int64, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{maxSize: maxSize, logger: logger}
}

// Read opens the archive at zipPath and returns its XML entries sorted by
// (directory, filename). The role identifies which of the three packages is
// being read so validation errors name it.
func (r *Reader) Read(zipPath string, role types.PackageRole) ([]Entry, error) {
	info, err := os.Stat(zipPath)
	if err != nil {
		return nil, types.ValidationError(role, types.ReasonFileNotFound, "package file not found: %s", zipPath)
	}
	if r.maxSize > 0 && info.Size() > r.maxSize {
		return nil, types.ValidationError(role, types.ReasonTooLarge,
			"package is %d bytes, limit is %d", info.Size(), r.maxSize)
	}

	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			return nil, types.ValidationError(role, types.ReasonNotZip, "file is not a ZIP archive: %s", zipPath)
		}
		return nil, types.ValidationError(role, types.ReasonCorrupt, "failed to open archive: %v", err)
	}
	defer zr.Close()

	var entries []Entry
	knownDirSeen := false
	fileCount := 0

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		fileCount++
		dir, name := splitEntry(f.Name)
		if types.TypeForDir(dir) != types.TypeUnknown {
			knownDirSeen = true
		}
		if !strings.HasSuffix(strings.ToLower(name), ".xml") {
			continue
		}

		data, err := readEntry(f)
		if err != nil {
			return nil, types.ValidationError(role, types.ReasonCorrupt,
				"failed to extract %s: %v", f.Name, err)
		}

		entries = append(entries, Entry{
			Type:     types.TypeForDir(dir),
			Dir:      dir,
			FileName: name,
			Data:     data,
		})
	}

	if fileCount == 0 || len(entries) == 0 {
		if fileCount > 0 && !knownDirSeen {
			return nil, types.ValidationError(role, types.ReasonMissingAppianDirs,
				"archive contains no Appian object directories")
		}
		return nil, types.ValidationError(role, types.ReasonNoXml,
			"archive contains no object XML files")
	}
	if !knownDirSeen {
		return nil, types.ValidationError(role, types.ReasonMissingAppianDirs,
			"archive contains no Appian object directories")
	}

	// Deterministic order so downstream parsing is reproducible.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Dir != entries[j].Dir {
			return entries[i].Dir < entries[j].Dir
		}
		return entries[i].FileName < entries[j].FileName
	})

	r.logger.Debug("Package read",
		zap.String("package", string(role)),
		zap.String("path", zipPath),
		zap.Int("entries", len(entries)))

	return entries, nil
}

// splitEntry separates the top-level directory tag from the file name.
// Entries at the archive root have an empty directory.
func splitEntry(entryName string) (dir, name string) {
	clean := path.Clean(strings.ReplaceAll(entryName, "\\", "/"))
	parts := strings.Split(clean, "/")
	if len(parts) == 1 {
		return "", parts[0]
	}
	return parts[0], parts[len(parts)-1]
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
