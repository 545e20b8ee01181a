package aggregate

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/MimeLyc/batch-transcriber/internal/jobs"
)

// Artifact is one file selected for an archive.
type Artifact struct {
	Name string
	Path string
}

// Plan lists the artifacts an archive would contain, in scope order then
// format order. An empty plan is a NotFound error.
func (a *Aggregator) Plan(ctx context.Context, scope Scope, formats []jobs.Format) ([]Artifact, error) {
	ret := make([]Artifact, 0)
	for _, e := range scope.Entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := a.store.JobDir(e.BatchID, e.JobID)
		for _, f := range formats {
			p := filepath.Join(dir, f.FileName())
			info, err := os.Stat(p)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			name := path.Join(e.JobID, f.FileName())
			if scope.Grouped {
				name = path.Join(e.BatchID, name)
			}
			ret = append(ret, Artifact{Name: name, Path: p})
		}
	}
	if len(ret) == 0 {
		return nil, jobs.NewNotFound("no results available for that selection")
	}
	return ret, nil
}

// WriteZip streams artifacts into a deflate zip on w one entry at a time.
// An artifact removed after planning is skipped.
func WriteZip(ctx context.Context, w io.Writer, artifacts []Artifact) (int, error) {
	zw := zip.NewWriter(w)
	written := 0
	for _, art := range artifacts {
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			return written, err
		}
		ok, err := addEntry(zw, art)
		if err != nil {
			_ = zw.Close()
			return written, err
		}
		if ok {
			written++
		}
	}
	if err := zw.Close(); err != nil {
		return written, fmt.Errorf("finish zip: %w", err)
	}
	return written, nil
}

func addEntry(zw *zip.Writer, art Artifact) (bool, error) {
	f, err := os.Open(art.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("open %s: %w", art.Name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", art.Name, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return false, fmt.Errorf("zip header %s: %w", art.Name, err)
	}
	hdr.Name = art.Name
	hdr.Method = zip.Deflate

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return false, fmt.Errorf("zip entry %s: %w", art.Name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return false, fmt.Errorf("zip copy %s: %w", art.Name, err)
	}
	return true, nil
}

// Archive plans and streams in one call.
func (a *Aggregator) Archive(ctx context.Context, w io.Writer, scope Scope, formats []jobs.Format) (int, error) {
	artifacts, err := a.Plan(ctx, scope, formats)
	if err != nil {
		return 0, err
	}
	return WriteZip(ctx, w, artifacts)
}
