package snapshot

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// Rule rewrites one snapshot line. Rules run in order on every line.
type Rule struct {
	Pattern *regexp.Regexp
	Replace string
}

// Stats describes what one compression pass removed.
type Stats struct {
	LinesRemoved      int
	DuplicatesRemoved int
	// Ratio is output size over input size, 1.0 when nothing was removed.
	Ratio float64
}

// Compressor shrinks a rendered snapshot for the model context without
// touching refs: every [ref=Ek] present in the input survives compression.
type Compressor struct {
	rules      []Rule
	deny       []glob.Glob
	dedupeText bool
}

// quotedText matches the quoted name segment of a snapshot line.
var quotedText = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)

// NewCompressor returns a compressor with the default rewrite rules:
// short role aliases, flattened heading levels, and unwrapped text runs.
func NewCompressor() *Compressor {
	c := &Compressor{}
	c.AddRule(`^(\s*- )listitem\b`, "${1}li")
	c.AddRule(`^(\s*- )link\b`, "${1}a")
	c.AddRule(`^(\s*- )heading ("(?:[^"\\]|\\.)*") \[level=(\d)\]`, "${1}h$3 $2")
	c.AddRule(`^(\s*)- text: ("(?:[^"\\]|\\.)*")$`, "$1- $2")
	return c
}

// AddRule appends a rewrite rule. Panics on an invalid pattern, so rules
// are effectively compile-time constants.
func (c *Compressor) AddRule(pattern, replace string) {
	c.rules = append(c.rules, Rule{Pattern: regexp.MustCompile(pattern), Replace: replace})
}

// AddDenyPattern drops lines whose trimmed content matches the glob.
// Lines carrying a ref are kept regardless, refs must stay actionable.
func (c *Compressor) AddDenyPattern(pattern string) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compile deny pattern %q: %w", pattern, err)
	}
	c.deny = append(c.deny, g)
	return nil
}

// AddDenyPrefix drops lines whose trimmed content starts with prefix.
func (c *Compressor) AddDenyPrefix(prefix string) {
	g, err := glob.Compile(glob.QuoteMeta(prefix) + "*")
	if err != nil {
		// QuoteMeta output always compiles.
		panic(err)
	}
	c.deny = append(c.deny, g)
}

// DedupeRepeatedText additionally replaces a line's quoted text with
// "[same as above]" when it exactly repeats the previous line's quoted
// text. Off by default.
func (c *Compressor) DedupeRepeatedText() {
	c.dedupeText = true
}

// Compress rewrites, filters, and deduplicates the snapshot text.
func (c *Compressor) Compress(text string) string {
	out, _ := c.CompressWithStats(text)
	return out
}

// CompressWithStats is Compress plus accounting for logs.
func (c *Compressor) CompressWithStats(text string) (string, Stats) {
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	var kept []string
	stats := Stats{}

	for _, line := range lines {
		for _, rule := range c.rules {
			line = rule.Pattern.ReplaceAllString(line, rule.Replace)
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			stats.LinesRemoved++
			continue
		}
		if c.denied(trimmed) {
			stats.LinesRemoved++
			continue
		}
		kept = append(kept, line)
	}

	kept, dups := collapseRuns(kept)
	stats.DuplicatesRemoved = dups
	if c.dedupeText {
		stats.DuplicatesRemoved += dedupeQuoted(kept)
	}

	out := strings.Join(kept, "\n")
	if len(kept) > 0 {
		out += "\n"
	}
	if len(text) > 0 {
		stats.Ratio = float64(len(out)) / float64(len(text))
	} else {
		stats.Ratio = 1
	}
	return out, stats
}

func (c *Compressor) denied(trimmed string) bool {
	if strings.Contains(trimmed, "[ref=") {
		return false
	}
	for _, g := range c.deny {
		if g.Match(trimmed) {
			return true
		}
	}
	return false
}

// dedupeQuoted rewrites lines in place, replacing quoted text that exactly
// repeats the previous line's quoted text. Ref lines keep their full name,
// the model may need it to choose a target.
func dedupeQuoted(lines []string) int {
	dups := 0
	prev := ""
	for i, line := range lines {
		quoted := quotedText.FindString(line)
		if quoted != "" && quoted == prev && !strings.Contains(line, "[ref=") {
			lines[i] = strings.Replace(line, quoted, "[same as above]", 1)
			dups++
		}
		prev = quoted
	}
	return dups
}

// collapseRuns replaces a run of identical lines with its first occurrence
// plus a repetition marker. Lines carrying refs never collapse, each ref
// appears exactly once in the input and must stay addressable.
func collapseRuns(lines []string) ([]string, int) {
	var out []string
	dups := 0
	for i := 0; i < len(lines); {
		j := i + 1
		if !strings.Contains(lines[i], "[ref=") {
			for j < len(lines) && lines[j] == lines[i] {
				j++
			}
		}
		out = append(out, lines[i])
		if run := j - i; run > 1 {
			indent := lines[i][:len(lines[i])-len(strings.TrimLeft(lines[i], " "))]
			out = append(out, fmt.Sprintf("%s[repeated %d times]", indent, run))
			dups += run - 1
		}
		i = j
	}
	return out, dups
}
