package converter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pagemill/api/internal/model"
)

// parsePageRange expands a 1-based "1-3,7" style selection into 0-based
// page indices. An empty spec selects every page, in order, once.
func parsePageRange(spec string, total int) ([]int, error) {
	if total <= 0 {
		return nil, fmt.Errorf("document has no pages")
	}
	if strings.TrimSpace(spec) == "" {
		pages := make([]int, total)
		for i := range pages {
			pages[i] = i
		}
		return pages, nil
	}

	var pages []int
	seen := make(map[int]bool)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty segment")
		}
		first, last := part, part
		if idx := strings.Index(part, "-"); idx >= 0 {
			first, last = part[:idx], part[idx+1:]
		}
		lo, err := strconv.Atoi(strings.TrimSpace(first))
		if err != nil {
			return nil, fmt.Errorf("bad page number %q", first)
		}
		hi, err := strconv.Atoi(strings.TrimSpace(last))
		if err != nil {
			return nil, fmt.Errorf("bad page number %q", last)
		}
		if lo < 1 || hi > total || lo > hi {
			return nil, fmt.Errorf("segment %q out of bounds (1-%d)", part, total)
		}
		for p := lo; p <= hi; p++ {
			if !seen[p] {
				seen[p] = true
				pages = append(pages, p-1)
			}
		}
	}
	return pages, nil
}

// renderPage normalizes one page of extracted text for the requested
// output format. Markdown output collapses runs of blank lines so page
// text joins cleanly.
func renderPage(text string, format model.OutputFormat) string {
	if format == model.OutputText {
		return text
	}
	lines := strings.Split(text, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blank = true
			continue
		}
		if blank && len(out) > 0 {
			out = append(out, "")
		}
		blank = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
