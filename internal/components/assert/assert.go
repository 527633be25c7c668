package assert

import "fmt"

// NotNil panics if value is nil, name is optional and only used to make the panic message
// easier to trace back to the offending dependency.
func NotNil(value any, name ...string) {
	if value == nil {
		panic(withName("expected value to be not nil", name))
	}
}

func NotEmptyStr(str string, name ...string) {
	if str == "" {
		panic(withName("expected string to be non-empty", name))
	}
}

func withName(msg string, name []string) string {
	if len(name) == 0 {
		return msg
	}
	return fmt.Sprintf("%s: %s", name[0], msg)
}
