package condition

import (
	"fmt"

	"github.com/dlclark/regexp2"
)

// matchesFn is the matches(s, pattern) builtin exposed to filter
// expressions. Patterns compile through the evaluator's shared
// program cache and carry a match timeout, so a pathological pattern
// costs one slow evaluation at worst and the entity is excluded like
// any other runtime error.
func (e *Evaluator) matchesFn(str, pattern any) (any, error) {
	if str == nil || pattern == nil {
		return false, nil
	}
	subject := fmt.Sprintf("%v", str)
	source := fmt.Sprintf("%v", pattern)

	re, err := e.regexProgram(source)
	if err != nil {
		return false, err
	}
	matched, err := re.MatchString(subject)
	if err != nil {
		return false, fmt.Errorf("%w: %q", ErrRegexTimeout, source)
	}
	return matched, nil
}

// regexProgram returns the compiled pattern. Compiled regexes live in
// the same cost-bounded cache as filter programs, under a prefixed key
// so a pattern never collides with a filter of identical text; the
// match timeout is fixed at compile time and travels with the cached
// instance.
func (e *Evaluator) regexProgram(source string) (*regexp2.Regexp, error) {
	if len(source) > MaxRegexPatternLength {
		return nil, fmt.Errorf("%w: pattern length %d exceeds limit %d",
			ErrRegexComplexity, len(source), MaxRegexPatternLength)
	}

	key := regexKeyPrefix + source
	if cached, ok := e.programs.Get(key); ok {
		if re, ok := cached.(*regexp2.Regexp); ok {
			return re, nil
		}
	}

	re, err := regexp2.Compile(source, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("%w: bad pattern %q: %v", ErrInvalidExpression, source, err)
	}
	re.MatchTimeout = e.opts.RegexTimeout

	e.programs.Set(key, re, int64(len(source)))
	return re, nil
}

const regexKeyPrefix = "matches\x00"
