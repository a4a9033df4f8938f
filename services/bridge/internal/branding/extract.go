package branding

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	helpers "github.com/keptn/bridge/pkg/shared"
)

var (
	ErrUnsafePath = errors.New("archive entry escapes target directory")
	ErrConflict   = errors.New("archive entry conflicts with existing path")
)

// rename is swapped in tests to simulate a failing move.
var rename = os.Rename

// Extract overlays the contents of archive onto target. Entries overwrite files
// with the same relative path; files not in the archive are left alone. When an
// archive names a file twice the later entry wins. All entries are decompressed
// into a sibling staging directory first, every destination is checked, and
// only then are files renamed into place. Replaced files are kept aside until
// the last rename succeeds, so any failure leaves target as it was.
func Extract(archive, target string) ([]string, error) {
	// entry names are checked below, so an insecure-path report is not fatal here
	r, err := zip.OpenReader(archive)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer helpers.CloseOrLog(r)

	target = filepath.Clean(target)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, fmt.Errorf("create target dir: %w", err)
	}

	// same parent as target, so the final renames stay on one filesystem
	staging, err := os.MkdirTemp(filepath.Dir(target), ".branding-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	seen := map[string]bool{}
	var files []string
	for _, entry := range r.File {
		rel := filepath.FromSlash(entry.Name)
		if !filepath.IsLocal(rel) {
			return nil, fmt.Errorf("%w: %q", ErrUnsafePath, entry.Name)
		}

		dest := filepath.Join(staging, rel)
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return nil, fmt.Errorf("create dir %q: %w", entry.Name, err)
			}
			continue
		}
		if !entry.Mode().IsRegular() {
			return nil, fmt.Errorf("%w: %q is not a regular file", ErrUnsafePath, entry.Name)
		}

		// O_TRUNC in writeEntry lets a repeated name overwrite the earlier one
		if err := writeEntry(entry, dest); err != nil {
			return nil, err
		}
		name := filepath.ToSlash(filepath.Clean(rel))
		if !seen[name] {
			seen[name] = true
			files = append(files, name)
		}
	}
	sort.Strings(files)

	newDirs, err := checkDestinations(target, files)
	if err != nil {
		return nil, err
	}
	if err := commit(staging, target, files, newDirs); err != nil {
		return nil, err
	}
	return files, nil
}

// checkDestinations fails when a destination or one of its parents exists with
// the wrong type. It returns the directories the commit has to create,
// deepest first.
func checkDestinations(target string, files []string) ([]string, error) {
	missing := map[string]bool{}
	for _, rel := range files {
		to := filepath.Join(target, filepath.FromSlash(rel))

		// parents top down, so a file in place of a directory is reported as such
		var parents []string
		for dir := filepath.Dir(to); dir != target; dir = filepath.Dir(dir) {
			parents = append(parents, dir)
		}
		for i := len(parents) - 1; i >= 0; i-- {
			info, err := os.Lstat(parents[i])
			switch {
			case errors.Is(err, fs.ErrNotExist):
				missing[parents[i]] = true
			case err != nil:
				return nil, fmt.Errorf("check %q: %w", rel, err)
			case !info.IsDir():
				return nil, fmt.Errorf("%w: parent of %q is not a directory", ErrConflict, rel)
			}
		}

		info, err := os.Lstat(to)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("check %q: %w", rel, err)
		case !info.Mode().IsRegular():
			return nil, fmt.Errorf("%w: %q exists and is not a regular file", ErrConflict, rel)
		}
	}

	dirs := make([]string, 0, len(missing))
	for dir := range missing {
		dirs = append(dirs, dir)
	}
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	return dirs, nil
}

type placed struct {
	rel      string
	backedUp bool
}

// commit renames every staged file into target. Existing files are moved to a
// backup directory first and put back if a later step fails.
func commit(staging, target string, files, newDirs []string) (err error) {
	backup, err := os.MkdirTemp(filepath.Dir(target), ".branding-backup-")
	if err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	keepBackup := false
	defer func() {
		if !keepBackup {
			_ = os.RemoveAll(backup)
		}
	}()

	var done []placed
	defer func() {
		if err == nil {
			return
		}
		if rerr := rollback(target, backup, done, newDirs); rerr != nil {
			keepBackup = true
			err = errors.Join(err, fmt.Errorf("restore failed, originals kept in %s: %w", backup, rerr))
		}
	}()

	for _, rel := range files {
		from := filepath.Join(staging, filepath.FromSlash(rel))
		to := filepath.Join(target, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
			return fmt.Errorf("create dir for %q: %w", rel, err)
		}

		p := placed{rel: rel}
		if _, err := os.Lstat(to); err == nil {
			saved := filepath.Join(backup, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(saved), 0o700); err != nil {
				return fmt.Errorf("create backup dir for %q: %w", rel, err)
			}
			if err := rename(to, saved); err != nil {
				return fmt.Errorf("back up %q: %w", rel, err)
			}
			p.backedUp = true
		}
		if err := rename(from, to); err != nil {
			if p.backedUp {
				// the original is in backup but the new file never landed
				done = append(done, placed{rel: rel, backedUp: true})
			}
			return fmt.Errorf("move %q into place: %w", rel, err)
		}
		done = append(done, p)
	}
	return nil
}

// rollback undoes a partial commit in reverse order.
func rollback(target, backup string, done []placed, newDirs []string) error {
	var errs []error
	for i := len(done) - 1; i >= 0; i-- {
		to := filepath.Join(target, filepath.FromSlash(done[i].rel))
		if err := os.Remove(to); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		if done[i].backedUp {
			if err := os.Rename(filepath.Join(backup, filepath.FromSlash(done[i].rel)), to); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, dir := range newDirs {
		// only empty directories go; anything else was not ours
		_ = os.Remove(dir)
	}
	return errors.Join(errs...)
}

func writeEntry(entry *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create dir for %q: %w", entry.Name, err)
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open entry %q: %w", entry.Name, err)
	}
	defer helpers.CloseOrLog(src)

	perm := entry.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o400)
	if err != nil {
		return fmt.Errorf("create %q: %w", entry.Name, err)
	}

	_, err = io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("extract %q: %w", entry.Name, err)
	}
	return nil
}
