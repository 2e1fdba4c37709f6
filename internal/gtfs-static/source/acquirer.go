// Package source fetches an agency's feed and lays its files out in a
// directory the importer can read.
package source

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gtfsload/internal/gtfs-static/task"
)

// FeedAcquirer downloads remote feeds and unpacks archives.
type FeedAcquirer struct {
	downloader Downloader
}

func NewAcquirer(d Downloader) *FeedAcquirer {
	return &FeedAcquirer{downloader: d}
}

func (a *FeedAcquirer) Fetch(ctx context.Context, t *task.Task, url, workspace string) (string, error) {
	if a.downloader == nil {
		return "", acquisitionError(t, url, errors.New("no downloader configured"))
	}

	t.Log.Info("Downloading GTFS from "+url, "url", url)
	path := filepath.Join(workspace, t.FileKey()+"-gtfs.zip")
	if err := a.downloader.Download(ctx, url, path, t.Log); err != nil {
		return "", acquisitionError(t, url, err)
	}
	t.Log.Info("Download successful")
	return path, nil
}

func (a *FeedAcquirer) Unpack(t *task.Task, path, workspace string) (string, error) {
	dir, err := unpack(t, path, workspace)
	if err != nil {
		return "", acquisitionError(t, path, err)
	}
	return dir, nil
}

func unpack(t *task.Task, path, workspace string) (string, error) {
	path, err := ExpandHome(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		t.Log.Info("Importing GTFS from "+path, "path", path)
		return path, nil
	}
	if !strings.EqualFold(filepath.Ext(path), ".zip") {
		return "", fmt.Errorf("%s is neither a directory nor a .zip archive", path)
	}

	dest := filepath.Join(workspace, "feed")
	t.Log.Info("Extracting GTFS from "+path, "path", path)
	if err := Extract(path, dest); err != nil {
		return "", fmt.Errorf("unable to unzip file %s: %w", path, err)
	}
	return feedRoot(dest)
}

func acquisitionError(t *task.Task, src string, err error) error {
	return &task.AcquisitionError{AgencyKey: t.AgencyKey, Source: src, Err: err}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Extract unpacks the archive at zipPath into dest. Entries that would
// land outside dest are rejected.
func Extract(zipPath, dest string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("opening zip file: %w", err)
	}
	defer reader.Close()

	root := filepath.Clean(dest) + string(os.PathSeparator)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}

	for _, f := range reader.File {
		target := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("illegal file path in archive: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// feedRoot descends into a lone top-level folder when the archive wrapped
// its files in one.
func feedRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var subdirs []string
	for _, e := range entries {
		if e.IsDir() {
			if e.Name() != "__MACOSX" {
				subdirs = append(subdirs, e.Name())
			}
			continue
		}
		if strings.HasSuffix(e.Name(), ".txt") {
			return dir, nil
		}
	}
	if len(subdirs) == 1 {
		return filepath.Join(dir, subdirs[0]), nil
	}
	return dir, nil
}
