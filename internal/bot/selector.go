package bot

import (
	"regexp"
	"strconv"
	"strings"
)

var rangeRe = regexp.MustCompile(`^\d+-\d+$`)

// ParseSelection resolves a bulk-delete selector against the current pending
// listing (oldest first). Positions are 1-based. Supported forms:
//
//	all | todos     every pending id
//	1,3,5           positions
//	2-7             position range
//	N               the last N positions, not position N
//
// The bare-number form is kept as-is from the original command even though it
// reads surprisingly next to the range form.
func ParseSelection(arg string, pending []int) []int {
	arg = strings.ToLower(strings.TrimSpace(arg))
	if arg == "" || len(pending) == 0 {
		return nil
	}

	if arg == "all" || arg == "todos" {
		return append([]int(nil), pending...)
	}

	if n, err := strconv.Atoi(arg); err == nil {
		if n <= 0 {
			return nil
		}
		if n > len(pending) {
			n = len(pending)
		}
		return append([]int(nil), pending[len(pending)-n:]...)
	}

	arg = strings.ReplaceAll(arg, " ", "")
	seen := make(map[int]bool)
	var out []int
	add := func(pos int) {
		idx := pos - 1
		if idx < 0 || idx >= len(pending) {
			return
		}
		id := pending[idx]
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, piece := range strings.Split(arg, ",") {
		if piece == "" {
			continue
		}
		if rangeRe.MatchString(piece) {
			bounds := strings.SplitN(piece, "-", 2)
			a, _ := strconv.Atoi(bounds[0])
			b, _ := strconv.Atoi(bounds[1])
			if a <= 0 || b <= 0 {
				continue
			}
			if a > b {
				a, b = b, a
			}
			for pos := a; pos <= b; pos++ {
				add(pos)
			}
		} else if n, err := strconv.Atoi(piece); err == nil {
			add(n)
		}
	}
	return out
}
