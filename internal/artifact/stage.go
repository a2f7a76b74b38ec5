package artifact

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Stage writes the set under dir, mirroring the layout below its root,
// and returns the local path of every artifact keyed by remote path.
func Stage(dir string, layout Layout, set Set) (map[string]string, error) {
	local := make(map[string]string, len(set))
	for _, a := range set {
		target := filepath.Join(dir, filepath.FromSlash(layout.Rel(a.RemotePath)))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("stage %s: %w", a.RemotePath, err)
		}
		if err := os.WriteFile(target, a.Content, 0o644); err != nil {
			return nil, fmt.Errorf("stage %s: %w", a.RemotePath, err)
		}
		local[a.RemotePath] = target
	}
	return local, nil
}

// ReadStaged loads a directory previously written by Stage.
func ReadStaged(dir string, layout Layout) (Set, error) {
	var set Set
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".yaml") {
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		set = append(set, Artifact{
			Name:       filepath.Base(p),
			RemotePath: layout.root() + "/" + filepath.ToSlash(rel),
			Content:    content,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read staged %s: %w", dir, err)
	}
	return set.sorted(), nil
}

// Diff renders a unified diff between two sets, file by file.
func Diff(before, after Set) (string, error) {
	paths := map[string]struct{}{}
	for _, a := range before {
		paths[a.RemotePath] = struct{}{}
	}
	for _, a := range after {
		paths[a.RemotePath] = struct{}{}
	}
	ordered := make([]string, 0, len(paths))
	for p := range paths {
		ordered = append(ordered, p)
	}
	sort.Strings(ordered)

	var out strings.Builder
	for _, p := range ordered {
		old, _ := before.Find(p)
		cur, _ := after.Find(p)
		if bytes.Equal(old.Content, cur.Content) {
			continue
		}
		text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(old.Content)),
			B:        difflib.SplitLines(string(cur.Content)),
			FromFile: "a" + p,
			ToFile:   "b" + p,
			Context:  3,
		})
		if err != nil {
			return "", fmt.Errorf("diff %s: %w", p, err)
		}
		out.WriteString(text)
	}
	return out.String(), nil
}

func containsGeo(content []byte) bool {
	return bytes.Contains(content, []byte("evt.Enriched.IsoCode"))
}
