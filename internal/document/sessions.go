package document

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/wesm/ctxview/internal/tree"
)

// maxParallelReads bounds concurrent document reads in a session
// directory.
const maxParallelReads = 8

var seqRe = regexp.MustCompile(`(\d+)\D*$`)

// SessionFile is one per-session document found in a session
// directory.
type SessionFile struct {
	Path string
	Tag  string // file stem, used as the session tag
	Seq  int    // embedded sequence number, -1 when absent
}

// sessionSeq extracts the last run of digits in a file stem.
func sessionSeq(stem string) int {
	m := seqRe.FindStringSubmatch(stem)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

// DiscoverSessions lists the JSON documents in dir ordered newest
// first: by sequence number descending, then by name descending. A
// missing directory yields no files and no error.
func DiscoverSessions(dir string) ([]SessionFile, error) {
	dirEntries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var files []SessionFile
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		stem := strings.TrimSuffix(name, ".json")
		files = append(files, SessionFile{
			Path: filepath.Join(dir, name),
			Tag:  stem,
			Seq:  sessionSeq(stem),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Seq != files[j].Seq {
			return files[i].Seq > files[j].Seq
		}
		return files[i].Tag > files[j].Tag
	})
	return files, nil
}

// ReadSessionDir loads every session document in dir and flattens
// their entries newest session first, tagging each entry with its
// session. A document that fails to load is skipped and reported in
// warnings; only a failure to list the directory itself is returned
// as an error.
func ReadSessionDir(
	dir string,
) (entries []tree.Entry, warnings []error, err error) {
	files, err := DiscoverSessions(dir)
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, nil
	}

	perFile := make([][]tree.Entry, len(files))
	errs := make([]error, len(files))

	var g errgroup.Group
	g.SetLimit(maxParallelReads)
	for i, f := range files {
		g.Go(func() error {
			es, err := ReadFile(f.Path)
			if err != nil {
				errs[i] = err
				return nil
			}
			for j := range es {
				es[j].Session = f.Tag
				es[j].Seq = f.Seq
			}
			perFile[i] = es
			return nil
		})
	}
	_ = g.Wait() // per-file errors are collected in errs

	for i := range files {
		if errs[i] != nil {
			warnings = append(warnings, errs[i])
			continue
		}
		entries = append(entries, perFile[i]...)
	}
	return entries, warnings, nil
}
