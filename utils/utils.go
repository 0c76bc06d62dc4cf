package utils

import (
	// Go Internal Packages
	"strconv"
	"strings"
)

// FormatPartitions renders kafka partition numbers as a comma separated list.
func FormatPartitions(partitions []int32) string {
	strs := make([]string, len(partitions))
	for i, p := range partitions {
		strs[i] = strconv.FormatInt(int64(p), 10)
	}
	return strings.Join(strs, ",")
}
