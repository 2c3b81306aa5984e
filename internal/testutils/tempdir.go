package testutils

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// TempTestDir returns a temp dir for a test that only gets cleaned up if the
// test does not fail.
func TempTestDir(t testing.TB, prefix string) string {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		if !t.Failed() {
			err := os.RemoveAll(dir)
			if err != nil {
				t.Logf("Unable to remove temp dir %s: %v", dir, err)
			}
		} else {
			t.Logf("Test data dir: %s", dir)
		}
	})

	return dir
}

// DirFiles returns the sorted base names of the regular files in dir.
func DirFiles(t testing.TB, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unable to read dir %s: %v", dir, err)
	}
	var res []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			res = append(res, filepath.Base(e.Name()))
		}
	}
	sort.Strings(res)
	return res
}
