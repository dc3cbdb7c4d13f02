/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package worker

import (
	"math"
	"time"
)

// Backoff returns the delay before retrying after the given attempt:
// base·2^(attempt-1), capped at max.
func Backoff(base, max time.Duration, attempt uint) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt == 0 {
		attempt = 1
	}
	d := base
	for i := uint(1); i < attempt; i++ {
		if (max > 0 && d >= max) || d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}
	if max > 0 && d > max {
		d = max
	}
	return d
}
