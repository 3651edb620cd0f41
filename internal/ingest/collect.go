package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"photoqueue/internal/queue"
)

const octetStream = "application/octet-stream"

// Sink accepts files for upload. *queue.Manager satisfies it.
type Sink interface {
	AddFiles(files []queue.FileRef) queue.AddResult
}

// Skipped records a path Collect did not turn into a file.
type Skipped struct {
	Path   string
	Reason string
}

// Batch is the outcome of Collect.
type Batch struct {
	Files   []queue.FileRef
	Skipped []Skipped
}

// CollectOptions tunes Collect.
type CollectOptions struct {
	// AllowedTypes filters files found while walking directories. Files named
	// explicitly are always returned so the queue can report why it refused
	// them. Empty disables filtering.
	AllowedTypes []string
	// IncludeHidden keeps dot files and dot directories during walks.
	IncludeHidden bool
}

// Collect expands paths into file references. Directories are walked
// recursively in lexical order; the same file is never returned twice. A file
// filtered out during a walk is still returned when it is also named
// explicitly, and is then no longer reported as skipped.
func Collect(paths []string, opts CollectOptions) Batch {
	var batch Batch
	seen := make(map[string]struct{})
	filtered := make(map[string]struct{})

	add := func(path string, explicit bool) {
		abs, err := filepath.Abs(path)
		if err != nil {
			batch.Skipped = append(batch.Skipped, Skipped{Path: path, Reason: err.Error()})
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		if _, skipped := filtered[abs]; skipped && !explicit {
			return
		}
		ref, err := Describe(abs)
		if err != nil {
			batch.Skipped = append(batch.Skipped, Skipped{Path: path, Reason: err.Error()})
			return
		}
		if !explicit && !allowed(ref.MIMEType, opts.AllowedTypes) {
			filtered[abs] = struct{}{}
			batch.Skipped = append(batch.Skipped, Skipped{Path: path, Reason: fmt.Sprintf("not a photo or video (%s)", ref.MIMEType)})
			return
		}
		seen[abs] = struct{}{}
		batch.Files = append(batch.Files, ref)
	}

	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			batch.Skipped = append(batch.Skipped, Skipped{Path: path, Reason: statReason(err)})
			continue
		}
		if !info.IsDir() {
			add(path, true)
			continue
		}
		for _, found := range walk(path, opts.IncludeHidden, &batch) {
			add(found, false)
		}
	}
	batch.Skipped = dropAccepted(batch.Skipped, seen)
	return batch
}

// dropAccepted removes skip records for files that were accepted later.
func dropAccepted(skipped []Skipped, accepted map[string]struct{}) []Skipped {
	kept := skipped[:0]
	for _, s := range skipped {
		if abs, err := filepath.Abs(s.Path); err == nil {
			if _, ok := accepted[abs]; ok {
				continue
			}
		}
		kept = append(kept, s)
	}
	return kept
}

func walk(root string, includeHidden bool, batch *Batch) []string {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			batch.Skipped = append(batch.Skipped, Skipped{Path: path, Reason: err.Error()})
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if path != root && !includeHidden && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		batch.Skipped = append(batch.Skipped, Skipped{Path: root, Reason: err.Error()})
	}
	sort.Strings(files)
	return files
}

// Describe stats a single file and detects its content type.
func Describe(path string) (queue.FileRef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return queue.FileRef{}, errors.New(statReason(err))
	}
	if !info.Mode().IsRegular() {
		return queue.FileRef{}, errors.New("not a regular file")
	}
	return queue.FileRef{
		Name:     filepath.Base(path),
		MIMEType: DetectType(path),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Path:     path,
	}, nil
}

// DetectType sniffs the content type of path, falling back to the file
// extension when the content is not recognised.
func DetectType(path string) string {
	detected := octetStream
	if mtype, err := mimetype.DetectFile(path); err == nil && mtype != nil {
		detected = stripParams(mtype.String())
	}
	if detected == octetStream || detected == "" {
		if byExt := stripParams(mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))); byExt != "" {
			return byExt
		}
		return octetStream
	}
	return detected
}

func stripParams(value string) string {
	if idx := strings.Index(value, ";"); idx >= 0 {
		value = value[:idx]
	}
	return strings.ToLower(strings.TrimSpace(value))
}

func allowed(mimeType string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(mimeType, prefix) {
			return true
		}
	}
	return false
}

func statReason(err error) string {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "no such file or directory"
	case errors.Is(err, fs.ErrPermission):
		return "permission denied"
	default:
		return err.Error()
	}
}
