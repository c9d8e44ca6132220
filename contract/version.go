package contract

import (
	"fmt"
	"strconv"
	"strings"
)

// CompareVersions 比较两个点分版本号，v1 < v2 返回 -1，相等返回 0，v1 > v2 返回 1
func CompareVersions(v1, v2 string) (int, error) {
	v1Parts := strings.Split(v1, ".")
	v2Parts := strings.Split(v2, ".")

	for i := 0; i < len(v1Parts) || i < len(v2Parts); i++ {
		var v1Part, v2Part int
		var err error

		if i < len(v1Parts) {
			v1Part, err = strconv.Atoi(v1Parts[i])
			if err != nil {
				return 0, fmt.Errorf("版本解析错误 %q: %w", v1, err)
			}
		}

		if i < len(v2Parts) {
			v2Part, err = strconv.Atoi(v2Parts[i])
			if err != nil {
				return 0, fmt.Errorf("版本解析错误 %q: %w", v2, err)
			}
		}

		if v1Part < v2Part {
			return -1, nil
		} else if v1Part > v2Part {
			return 1, nil
		}
	}

	return 0, nil
}
