//go:build !unix

package status

import "time"

func processCPUTime() (time.Duration, bool) {
	return 0, false
}
