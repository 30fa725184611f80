package triage

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/pyama86/autoheal/domain/entity"
)

var DefaultLogPatterns = []entity.LogPattern{
	{Name: "error", Regex: `(?i)\b(error|err)\b`},
	{Name: "warn", Regex: `(?i)\bwarn(ing)?\b`},
	{Name: "timeout", Regex: `(?i)time(d)?\s?out`},
	{Name: "connection_refused", Regex: `(?i)connection refused`},
	{Name: "out_of_memory", Regex: `(?i)(out of memory|oom-?kill)`},
	{Name: "http_5xx", Regex: `\b(HTTP/\d(\.\d)?"?\s+|status[=: ]+)5\d\d\b`},
	{Name: "throttled", Regex: `(?i)(throttl|rate exceeded|too many requests)`},
	{Name: "access_denied", Regex: `(?i)(access ?denied|unauthorized|forbidden)`},
	{Name: "panic", Regex: `(?i)\b(panic|fatal)\b`},
}

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

// PatternExtractor はログ行をパターン名ごとの件数に集計する
type PatternExtractor struct {
	patterns []namedPattern
}

func NewPatternExtractor(patterns []entity.LogPattern) (*PatternExtractor, error) {
	if len(patterns) == 0 {
		patterns = DefaultLogPatterns
	}
	e := &PatternExtractor{}
	seen := map[string]bool{}
	for _, p := range patterns {
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate log pattern %q", p.Name)
		}
		seen[p.Name] = true
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("failed to compile log pattern %s: %w", p.Name, err)
		}
		e.patterns = append(e.patterns, namedPattern{name: p.Name, re: re})
	}
	return e, nil
}

// 1 行が複数パターンに一致すればそれぞれ数える。
// 一度も一致しなかったパターンも 0 として返す
func (e *PatternExtractor) Extract(lines []string) map[string]int {
	counts := make(map[string]int, len(e.patterns))
	for _, p := range e.patterns {
		counts[p.name] = 0
	}
	for _, l := range lines {
		for _, p := range e.patterns {
			if p.re.MatchString(l) {
				counts[p.name]++
			}
		}
	}
	return counts
}

func (e *PatternExtractor) Names() []string {
	names := make([]string, 0, len(e.patterns))
	for _, p := range e.patterns {
		names = append(names, p.name)
	}
	sort.Strings(names)
	return names
}
