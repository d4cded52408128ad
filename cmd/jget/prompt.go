package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

var errNoSelection = errors.New("nothing selected")

// parseSelection turns "1,3", "2-4" or "a" into 1-based indexes within
// [1, n]. all reports an "a"/"all" answer.
func parseSelection(answer string, n int) (indexes []int, all bool, err error) {
	answer = strings.ToLower(strings.TrimSpace(answer))
	switch answer {
	case "":
		return nil, false, errNoSelection
	case "a", "all":
		return nil, true, nil
	}

	seen := make(map[int]struct{})
	for _, part := range strings.FieldsFunc(answer, func(r rune) bool { return r == ',' || r == ' ' }) {
		lo, hi, isRange := strings.Cut(part, "-")
		from, err := strconv.Atoi(lo)
		if err != nil {
			return nil, false, fmt.Errorf("invalid index %q", part)
		}
		to := from
		if isRange {
			if to, err = strconv.Atoi(hi); err != nil || to < from {
				return nil, false, fmt.Errorf("invalid range %q", part)
			}
		}
		for i := from; i <= to; i++ {
			if i < 1 || i > n {
				return nil, false, fmt.Errorf("index %d out of range 1-%d", i, n)
			}
			seen[i] = struct{}{}
		}
	}
	for i := range seen {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	return indexes, false, nil
}

// promptSelection asks until it gets a valid answer or input ends.
func promptSelection(in io.Reader, out io.Writer, action string, n int) ([]int, bool, error) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "Select downloads to %s (1-%d, ranges like 2-4, 'a' for all): ", action, n)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, false, err
			}
			return nil, false, errNoSelection
		}
		indexes, all, err := parseSelection(scanner.Text(), n)
		if err == nil {
			return indexes, all, nil
		}
		if errors.Is(err, errNoSelection) {
			return nil, false, err
		}
		fmt.Fprintln(out, errorStyle.Render(err.Error()))
	}
}
