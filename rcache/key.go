package rcache

import (
	"fmt"
	"strings"
)

// Key builds a cache key for a call of method on typeName with args, in the
// form Type:method:arg1,arg2. Without args the form is Type:method.
func Key(typeName, method string, args ...any) string {
	var b strings.Builder
	b.WriteString(typeName)
	b.WriteByte(':')
	b.WriteString(method)
	if len(args) == 0 {
		return b.String()
	}
	b.WriteByte(':')
	for i, arg := range args {
		if i != 0 {
			b.WriteByte(',')
		}
		fmt.Fprint(&b, arg)
	}
	return b.String()
}
