package blocklist

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/semihalev/zlog/v2"
)

const (
	maxNameLen  = 253
	maxLabelLen = 63
)

// (*BlockList).loadFile streams one name per line into the engine. Blank
// lines and # comments are skipped, bad names are warnings, never errors.
func (b *BlockList) loadFile(path string, zone bool) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		b.add(line, zone)
	}

	return scanner.Err()
}

// (*BlockList).add normalizes and stores a single entry.
func (b *BlockList) add(entry string, zone bool) {
	name, err := normalize(entry)
	if err != nil {
		zlog.Warn("Blacklist entry skipped", "entry", entry, "error", err.Error())
		return
	}

	// entries follow the strict LDH rules, underscores are only tolerated in
	// query names
	if strings.Contains(name, "_") {
		zlog.Warn("Blacklist entry skipped", "entry", entry, "error", "invalid character '_'")
		return
	}

	if zone {
		b.zones.insert(name)
		return
	}

	b.exact[name] = struct{}{}
}

// normalize lower-cases a name, trims the trailing dot and validates label and
// name lengths and characters: letters, digits, hyphens and, for query names
// such as _dmarc labels, underscores. The returned form is what both engine
// structures store.
func normalize(entry string) (string, error) {
	name := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(entry), "."))

	if name == "" {
		return "", errors.New("empty name")
	}

	if len(name) > maxNameLen {
		return "", fmt.Errorf("name exceeds %d octets", maxNameLen)
	}

	for _, label := range strings.Split(name, ".") {
		if label == "" {
			return "", errors.New("empty label")
		}

		if len(label) > maxLabelLen {
			return "", fmt.Errorf("label exceeds %d octets", maxLabelLen)
		}

		for i := 0; i < len(label); i++ {
			c := label[i]
			switch {
			case c >= 'a' && c <= 'z':
			case c >= '0' && c <= '9':
			case c == '-' || c == '_':
			default:
				return "", fmt.Errorf("invalid character %q", c)
			}
		}
	}

	return name, nil
}
