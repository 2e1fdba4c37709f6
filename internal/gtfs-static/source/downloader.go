package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/gtfsload/internal/common/logger"
)

// DownloadOptions tunes the HTTP client.
type DownloadOptions struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
}

func DefaultDownloadOptions() DownloadOptions {
	return DownloadOptions{
		RetryMax:     2,
		RetryWaitMin: time.Second,
		RetryWaitMax: 30 * time.Second,
		Timeout:      5 * time.Minute, // Large files may take time
	}
}

type HTTPDownloader struct {
	client *retryablehttp.Client
	logger logger.Logger
}

func NewHTTPDownloader(opts DownloadOptions, log logger.Logger) *HTTPDownloader {
	if log == nil {
		log = logger.Nop()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}
	if opts.Timeout > 0 {
		client.HTTPClient.Timeout = opts.Timeout
	}
	client.Logger = log

	return &HTTPDownloader{
		client: client,
		logger: log,
	}
}

func (d *HTTPDownloader) Download(ctx context.Context, url string, destPath string, progress Progress) error {
	// Ensure destination directory exists
	destDir := filepath.Dir(destPath)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	tempFile, err := os.CreateTemp(destDir, "gtfs_download_*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath)

	d.logger.Info("Starting download", "url", url, "dest", destPath)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		tempFile.Close()
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		tempFile.Close()
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		tempFile.Close()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	written, err := copyWithProgress(tempFile, resp.Body, resp.ContentLength, progress)
	tempFile.Close()
	if err != nil {
		return fmt.Errorf("downloading file: %w", err)
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		return fmt.Errorf("moving file to destination: %w", err)
	}

	d.logger.Info("Download completed",
		"url", url,
		"dest", destPath,
		"size_bytes", written)

	return nil
}

func copyWithProgress(dst io.Writer, src io.Reader, totalSize int64, progress Progress) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	lastLog := time.Now()

	for {
		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[0:nr])
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
			written += int64(nw)

			// Log progress every 5 seconds
			if progress != nil && time.Since(lastLog) > 5*time.Second && totalSize > 0 {
				pct := float64(written) / float64(totalSize) * 100
				progress.Progress(fmt.Sprintf("Downloading - %.1f%%", pct),
					"bytes_downloaded", written,
					"total_bytes", totalSize)
				lastLog = time.Now()
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, err
		}
	}

	return written, nil
}
