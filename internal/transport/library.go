package transport

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"photoqueue/internal/logging"
	"photoqueue/internal/queue"
	"photoqueue/internal/services"
	"photoqueue/internal/textutil"
)

// maxNameSuffix bounds the stem_N search for a free file name.
const maxNameSuffix = 10000

// LibraryOptions configures LibraryUploader.
type LibraryOptions struct {
	Dir          string
	MinFreeSpace uint64
	// Statfs reports free bytes for a path. Defaults to unix.Statfs.
	Statfs func(path string) (uint64, error)
	Now    func() time.Time
}

// LibraryUploader copies files into <Dir>/<YYYY>/<MM>/, organised by the
// file's modification date.
type LibraryUploader struct {
	dir     string
	minFree uint64
	statfs  func(string) (uint64, error)
	now     func() time.Time
	logger  *slog.Logger
}

// NewLibraryUploader validates opts and returns an uploader.
func NewLibraryUploader(opts LibraryOptions, logger *slog.Logger) (*LibraryUploader, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, services.Wrap(services.ErrConfiguration, "library-transport", "new", "library directory is required", nil)
	}
	statfs := opts.Statfs
	if statfs == nil {
		statfs = freeBytes
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LibraryUploader{
		dir:     filepath.Clean(dir),
		minFree: opts.MinFreeSpace,
		statfs:  statfs,
		now:     now,
		logger:  logging.NewComponentLogger(logger, "library-transport"),
	}, nil
}

// Dir returns the library root.
func (l *LibraryUploader) Dir() string {
	return l.dir
}

// Upload copies file into the library. A file with identical content already
// stored under the same name is reported as skipped.
func (l *LibraryUploader) Upload(ctx context.Context, file queue.FileRef, onProgress queue.ProgressFunc) (queue.Result, error) {
	if err := ctx.Err(); err != nil {
		return queue.Result{}, err
	}
	if err := l.checkDestination(file.Size); err != nil {
		return queue.Result{}, err
	}

	taken := file.ModTime
	if taken.IsZero() {
		taken = l.now()
	}
	targetDir := filepath.Join(l.dir, taken.Format("2006"), taken.Format("01"))
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return queue.Result{}, services.Wrap(services.ErrTransient, "library-transport", "create directory", targetDir, err)
	}

	reader, err := file.OpenReader()
	if err != nil {
		return queue.Result{}, services.Wrap(services.ErrPermanent, "library-transport", "open file", file.Name, err)
	}
	defer reader.Close()

	tmp, err := os.CreateTemp(targetDir, ".photoqueue-*")
	if err != nil {
		return queue.Result{}, services.Wrap(services.ErrTransient, "library-transport", "create temp file", targetDir, err)
	}
	tmpPath := tmp.Name()
	// The stored copy is a hard link, so the temp name always goes.
	defer func() { _ = os.Remove(tmpPath) }()

	hasher := md5.New()
	counter := &progressWriter{total: file.Size, onProgress: onProgress}
	written, err := io.Copy(io.MultiWriter(tmp, hasher, counter), contextReader{ctx: ctx, r: reader})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return queue.Result{}, fmt.Errorf("copy %s: %w", file.Name, ctxErr)
		}
		return queue.Result{}, services.Wrap(services.ErrTransient, "library-transport", "copy", file.Name, err)
	}
	if file.Size > 0 && written != file.Size {
		return queue.Result{}, services.Wrap(
			services.ErrTransient,
			"library-transport",
			"copy",
			fmt.Sprintf("%s changed during copy: expected %d bytes, copied %d", file.Name, file.Size, written),
			nil,
		)
	}
	checksum := hex.EncodeToString(hasher.Sum(nil))

	name := textutil.SafeFileName(file.Name)
	existing, err := findIdentical(targetDir, name, written, checksum)
	if err != nil {
		return queue.Result{}, services.Wrap(services.ErrTransient, "library-transport", "compare", name, err)
	}
	if existing != "" {
		l.logger.Info("identical file already in library",
			logging.String(logging.FieldFile, file.Name),
			logging.String("location", l.relative(existing)),
			logging.String(logging.FieldEventType, "library_duplicate_skipped"),
		)
		return queue.Result{
			Location: l.relative(existing),
			Checksum: checksum,
			Skipped:  true,
			Message:  "identical file already exists",
		}, nil
	}

	if !file.ModTime.IsZero() {
		_ = os.Chtimes(tmpPath, file.ModTime, file.ModTime)
	}
	final, err := claimName(tmpPath, targetDir, name)
	if err != nil {
		return queue.Result{}, services.Wrap(services.ErrTransient, "library-transport", "store", name, err)
	}

	location := l.relative(final)
	l.logger.Debug("file stored in library",
		logging.String(logging.FieldFile, file.Name),
		logging.String("location", location),
		logging.String("checksum", checksum),
	)
	return queue.Result{Location: location, Checksum: checksum}, nil
}

func (l *LibraryUploader) checkDestination(size int64) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "library-transport", "preflight", "library directory unavailable", err)
	}
	if err := unix.Access(l.dir, unix.W_OK|unix.X_OK); err != nil {
		return services.Wrap(services.ErrPermanent, "library-transport", "preflight", fmt.Sprintf("%s is not writable", l.dir), err)
	}
	if l.minFree == 0 {
		return nil
	}
	free, err := l.statfs(l.dir)
	if err != nil {
		return services.Wrap(services.ErrTransient, "library-transport", "preflight", "free space check failed", err)
	}
	need := l.minFree
	if size > 0 {
		need += uint64(size)
	}
	if free < need {
		return services.Wrap(
			services.ErrTransient,
			"library-transport",
			"preflight",
			fmt.Sprintf("insufficient free space: %s available, %s required", humanize.IBytes(free), humanize.IBytes(need)),
			nil,
		)
	}
	return nil
}

func (l *LibraryUploader) relative(path string) string {
	rel, err := filepath.Rel(l.dir, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// candidateName returns name for index 0 and stem_N.ext otherwise.
func candidateName(name string, index int) string {
	if index == 0 {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s_%d%s", stem, index, ext)
}

// findIdentical walks name, name_1, ... until the first free slot and
// returns the path of a file whose size and checksum match.
func findIdentical(dir, name string, size int64, checksum string) (string, error) {
	for i := 0; i < maxNameSuffix; i++ {
		path := filepath.Join(dir, candidateName(name, i))
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		if !info.Mode().IsRegular() || info.Size() != size {
			continue
		}
		sum, err := fileChecksum(path, md5.New())
		if err != nil {
			return "", err
		}
		if sum == checksum {
			return path, nil
		}
	}
	return "", nil
}

// claimName hard-links tmp under the first free candidate name. Link fails
// when the target exists, so concurrent writers never overwrite each other.
func claimName(tmp, dir, name string) (string, error) {
	for i := 0; i < maxNameSuffix; i++ {
		path := filepath.Join(dir, candidateName(name, i))
		err := os.Link(tmp, path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free file name for %s", name)
}

func fileChecksum(path string, h hash.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func freeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
