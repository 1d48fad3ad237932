package module

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// PropFile is the metadata file every module carries at its root.
const PropFile = "module.prop"

// validID matches the module ids accepted by the store. Ids double as
// directory names and mount path components, so the first character is a
// letter and the rest stays in a safe set.
var validID = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]+$`)

// ValidID reports whether id is acceptable as a module id.
func ValidID(id string) bool {
	return validID.MatchString(id)
}

// Prop is parsed module.prop metadata.
type Prop struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	VersionCode int64  `json:"versionCode"`
	Author      string `json:"author,omitempty"`
	Description string `json:"description,omitempty"`
}

// ParseProp reads key=value metadata. Blank lines and # comments are
// skipped, whitespace and trailing carriage returns are trimmed, and the
// last assignment of a key wins.
func ParseProp(r io.Reader) (Prop, error) {
	var p Prop
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "id":
			p.ID = value
		case "name":
			p.Name = value
		case "version":
			p.Version = value
		case "versionCode":
			n, err := strconv.ParseInt(value, 10, 64)
			if err == nil {
				p.VersionCode = n
			}
		case "author":
			p.Author = value
		case "description":
			p.Description = value
		}
	}
	if err := sc.Err(); err != nil {
		return p, fmt.Errorf("read prop: %w", err)
	}
	if p.ID == "" {
		return p, fmt.Errorf("prop has no id")
	}
	if !ValidID(p.ID) {
		return p, fmt.Errorf("invalid module id %q", p.ID)
	}
	return p, nil
}

// ParsePropFile reads and parses path.
func ParsePropFile(path string) (Prop, error) {
	f, err := os.Open(path)
	if err != nil {
		return Prop{}, err
	}
	defer f.Close()
	return ParseProp(f)
}
