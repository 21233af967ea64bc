package mqtt

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrInvalidPattern = errors.New("invalid topic pattern")

// CompileTopic 把 MQTT 订阅模式编译为锚定的正则表达式
//   - "+" 匹配恰好一级，捕获为一个分组
//   - "#" 只能出现在最后一级，匹配剩余的一级或多级
func CompileTopic(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}

	levels := strings.Split(pattern, "/")
	parts := make([]string, 0, len(levels))
	for i, level := range levels {
		switch {
		case level == "+":
			parts = append(parts, "([^/]+)")
		case level == "#":
			if i != len(levels)-1 {
				return nil, fmt.Errorf("%w: '#' must be the last level in %q", ErrInvalidPattern, pattern)
			}
			parts = append(parts, "(.+)")
		case strings.ContainsAny(level, "+#"):
			return nil, fmt.Errorf("%w: wildcard must occupy a whole level in %q", ErrInvalidPattern, pattern)
		default:
			parts = append(parts, regexp.QuoteMeta(level))
		}
	}

	return regexp.Compile("^" + strings.Join(parts, "/") + "$")
}
