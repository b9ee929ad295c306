package review

import (
	"regexp"
	"strconv"
	"strings"
)

var labelLine = regexp.MustCompile(`^\s*\**\s*([A-Z_]+)\s*\**\s*:\s*(.*?)\s*$`)

// labels extracts LABEL: value lines and "- " bullet lines.
func labels(text string) (map[string]string, []string) {
	values := make(map[string]string)
	var bullets []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") {
			if item := strings.TrimSpace(trimmed[2:]); item != "" {
				bullets = append(bullets, item)
			}
			continue
		}
		if m := labelLine.FindStringSubmatch(line); m != nil {
			if _, seen := values[m[1]]; !seen {
				values[m[1]] = m[2]
			}
		}
	}
	return values, bullets
}

func score(values map[string]string, key string, def float64) float64 {
	raw, ok := values[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.Trim(strings.Fields(raw + " x")[0], "*"), 64)
	if err != nil {
		return def
	}
	return min(max(f, 0), 1)
}

func yes(values map[string]string, key string, def bool) bool {
	raw, ok := values[key]
	if !ok {
		return def
	}
	switch v := strings.ToUpper(strings.Trim(strings.TrimSpace(raw), ".*")); {
	case strings.HasPrefix(v, "YES"), strings.HasPrefix(v, "SIM"), strings.HasPrefix(v, "TRUE"):
		return true
	case strings.HasPrefix(v, "NO"), strings.HasPrefix(v, "NÃO"), strings.HasPrefix(v, "FALSE"):
		return false
	default:
		return def
	}
}
