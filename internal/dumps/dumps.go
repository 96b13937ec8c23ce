// Package dumps enumerates crash dump files on disk.
package dumps

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zhubert/windbg-mcp/internal/errors"
)

// Info describes one dump file.
type Info struct {
	Path      string
	SizeBytes int64
}

// defaultDirs are the well-known Windows crash dump locations, probed in
// order by DefaultDir.
var defaultDirs = []string{
	`C:\Windows\Minidump`,
	`C:\ProgramData\Microsoft\Windows\WER\ReportQueue`,
	`C:\Users\Public\Documents\Dumps`,
}

// DefaultDir returns the first existing well-known dump directory, or an
// error when none exists on this machine.
func DefaultDir() (string, error) {
	for _, dir := range defaultDirs {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", errors.E(errors.Op("dumps.DefaultDir"), errors.KindNotFound,
		"unable to determine default dump directory")
}

// Find returns the .dmp files under directory, optionally recursing into
// subdirectories, sorted descending by size (large dumps are usually the
// interesting ones).
func Find(directory string, recursive bool) ([]Info, error) {
	info, err := os.Stat(directory)
	if err != nil {
		return nil, errors.E(errors.Op("dumps.Find"), errors.KindNotFound,
			fmt.Sprintf("directory does not exist: %s", directory))
	}
	if !info.IsDir() {
		return nil, errors.E(errors.Op("dumps.Find"), errors.KindInvalid,
			fmt.Sprintf("path is not a directory: %s", directory))
	}

	var found []Info
	err = filepath.WalkDir(directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && path != directory {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".dmp") {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil // file vanished mid-walk
		}
		found = append(found, Info{Path: path, SizeBytes: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, errors.E(errors.Op("dumps.Find"), errors.KindIO, err)
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].SizeBytes > found[j].SizeBytes
	})
	return found, nil
}
