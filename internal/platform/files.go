package platform

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File permissions
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// Temp artifact name prefixes inside the work directory
const (
	DownloadPrefix  = "dl_"
	ThumbnailPrefix = "thumb_"
)

// SkippedExtensions are partial files left by the extractor while downloading
var SkippedExtensions = []string{".part", ".ytdl", ".temp"}

// CreateDirectoryIfNotExists creates directory if it doesn't exist
func CreateDirectoryIfNotExists(dirPath string) error {
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		return os.MkdirAll(dirPath, DefaultDirPermissions)
	}
	return nil
}

// NonEmptyFileSize returns the size of a regular, non-empty file
func NonEmptyFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("%s is empty", path)
	}
	return info.Size(), nil
}

// FindFileWithFallback returns filePath if it exists. Otherwise it looks in the
// same directory for a completed file sharing the base name with any extension,
// which is what the extractor produces when it picks another container.
func FindFileWithFallback(filePath string) (string, error) {
	if filePath == "" {
		return "", fmt.Errorf("file path is empty")
	}
	if strings.HasPrefix(filePath, "http") {
		return "", fmt.Errorf("file path appears to be a URL: %s", filePath)
	}

	if _, err := os.Stat(filePath); err == nil {
		return filePath, nil
	}

	dir := filepath.Dir(filePath)
	baseName := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var candidates []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if isPartialFile(name) {
			continue
		}
		entryBase := strings.TrimSuffix(name, filepath.Ext(name))
		if entryBase == baseName || strings.HasPrefix(entryBase, baseName+".") {
			candidates = append(candidates, filepath.Join(dir, name))
		}
	}

	if len(candidates) == 0 {
		return "", fmt.Errorf("file not found: %s", filePath)
	}

	// Prefer the largest candidate: merged output beats leftover single streams.
	sort.Slice(candidates, func(i, j int) bool {
		infoI, _ := os.Stat(candidates[i])
		infoJ, _ := os.Stat(candidates[j])
		if infoI == nil || infoJ == nil {
			return candidates[i] < candidates[j]
		}
		return infoI.Size() > infoJ.Size()
	})
	return candidates[0], nil
}

// MoveFile renames src to dst, copying across filesystems when rename fails
func MoveFile(src, dst string) error {
	if src == dst {
		return nil
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, DefaultFilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// RemoveFiles deletes every path, ignoring missing files. It returns the
// number of files removed and the joined errors of the ones that could not be.
func RemoveFiles(paths ...string) (int, error) {
	var errs []error
	removed := 0
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := os.Remove(p)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, os.ErrNotExist):
		default:
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}

// JobTempFiles lists regular files in dir that belong to jobID: names starting
// with one of the temp prefixes directly followed by the id. Other files that
// merely mention the id are left alone.
func JobTempFiles(dir, jobID string) ([]string, error) {
	if jobID == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	var matches []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, DownloadPrefix+jobID) || strings.HasPrefix(name, ThumbnailPrefix+jobID) {
			matches = append(matches, filepath.Join(dir, name))
		}
	}
	return matches, nil
}

// PurgeStale removes files in dir whose name starts with one of prefixes.
// It returns the number of files removed.
func PurgeStale(dir string, prefixes ...string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var stale []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		for _, prefix := range prefixes {
			if strings.HasPrefix(entry.Name(), prefix) {
				stale = append(stale, filepath.Join(dir, entry.Name()))
				break
			}
		}
	}
	return RemoveFiles(stale...)
}

func isPartialFile(name string) bool {
	for _, ext := range SkippedExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
