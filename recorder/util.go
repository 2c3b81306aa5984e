package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// hcount == "human count"
func hcount(i uint64) string {
	switch {
	case i < 1e3:
		return strconv.FormatUint(i, 10)
	case i < 1e6:
		f := float64(i)
		return strconv.FormatFloat(f/1e3, 'f', 2, 64) + "K"
	case i < 1e9:
		f := float64(i)
		return strconv.FormatFloat(f/1e6, 'f', 2, 64) + "M"
	default:
		return strconv.FormatUint(i, 10)
	}
}

// hrate == "human rate"
func hrate(f float64) string {
	switch {
	case f < 1e3:
		return strconv.FormatFloat(f, 'f', 2, 64)
	case f < 1e6:
		return strconv.FormatFloat(f/1e3, 'f', 2, 64) + "K"
	default:
		return strconv.FormatFloat(f, 'f', 2, 64)
	}
}

// hduration formats d as "1hr 2mins 3secs".
func hduration(d time.Duration) string {
	hrs := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60

	plural := func(n int, unit string) string {
		if n > 1 {
			return fmt.Sprintf("%d%ss", n, unit)
		}
		return fmt.Sprintf("%d%s", n, unit)
	}

	var parts []string
	if hrs > 0 {
		parts = append(parts, plural(hrs, "hr"))
	}
	if mins > 0 {
		parts = append(parts, plural(mins, "min"))
	}
	if secs > 0 || len(parts) == 0 {
		parts = append(parts, plural(secs, "sec"))
	}
	return strings.Join(parts, " ")
}

const baseTimeFormat = "20060102_150405"

// uniqueBase returns a base name for the files of a session started at t
// which does not clash with any file in folder nor with the base of the
// previous session.
func uniqueBase(folder string, t time.Time, prev string) (string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}

	stem := "record_" + t.Format(baseTimeFormat)
	taken := func(base string) bool {
		if base == prev {
			return true
		}
		for _, e := range entries {
			name := e.Name()
			if strings.HasPrefix(name, base+".") {
				return true
			}
		}
		return false
	}

	base := stem
	for i := 2; taken(base); i++ {
		base = stem + "_" + strconv.Itoa(i)
	}
	return base, nil
}

// basePath joins the folder and base name of a session.
func basePath(folder, base string) string {
	return filepath.Join(folder, base)
}
