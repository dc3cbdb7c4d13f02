/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pages

import (
	"path"
	"sort"
	"strings"
)

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// hasNumber reports whether s contains a numeric run.
func hasNumber(s string) bool {
	for i := 0; i < len(s); i++ {
		if isDigit(s[i]) {
			return true
		}
	}
	return false
}

// NaturalLess compares strings with numeric runs compared as integers, so
// "page2" sorts before "page10". Comparison is case-insensitive on text runs.
func NaturalLess(a, b string) bool {
	return naturalCompare(a, b) < 0
}

func naturalCompare(a, b string) int {
	ai, bi := 0, 0
	for ai < len(a) && bi < len(b) {
		if isDigit(a[ai]) && isDigit(b[bi]) {
			startA, startB := ai, bi
			for ai < len(a) && isDigit(a[ai]) {
				ai++
			}
			for bi < len(b) && isDigit(b[bi]) {
				bi++
			}
			if c := compareNumeric(a[startA:ai], b[startB:bi]); c != 0 {
				return c
			}
			continue
		}

		ca, cb := lower(a[ai]), lower(b[bi])
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
		ai++
		bi++
	}

	switch {
	case len(a)-ai < len(b)-bi:
		return -1
	case len(a)-ai > len(b)-bi:
		return 1
	}
	return 0
}

// compareNumeric compares two digit runs by value without overflow.
func compareNumeric(x, y string) int {
	tx := strings.TrimLeft(x, "0")
	ty := strings.TrimLeft(y, "0")
	if len(tx) != len(ty) {
		if len(tx) < len(ty) {
			return -1
		}
		return 1
	}
	if c := strings.Compare(tx, ty); c != 0 {
		return c
	}
	// equal value, fewer leading zeros first
	switch {
	case len(x) < len(y):
		return -1
	case len(x) > len(y):
		return 1
	}
	return 0
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// Sort orders paths into page order: entries whose file name carries a
// numeric token come first in natural order of the full path, the rest follow
// lexicographically.
func Sort(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool { return pageLess(paths[i], paths[j]) })
}

func pageLess(a, b string) bool {
	na, nb := hasNumber(path.Base(a)), hasNumber(path.Base(b))
	if na != nb {
		return na
	}
	if na {
		if c := naturalCompare(a, b); c != 0 {
			return c < 0
		}
	}
	return a < b
}
