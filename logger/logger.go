// Package logger adapts zap and logrus to bwtree.Logger. *slog.Logger needs
// no adapter.
//
// The tree passes attributes as alternating key/value pairs. A trailing key
// without a value is reported under the key "!BADKEY", as slog does, rather
// than dropped.
//
//	zl, _ := zap.NewProduction()
//	tree, err := bwtree.New(bwtree.WithLogger(logger.NewZap(zl)))
package logger

import "fmt"

const badKey = "!BADKEY"

// pairs walks args as key/value pairs and calls fn for each.
func pairs(args []any, fn func(key string, value any)) {
	for i := 0; i < len(args); i += 2 {
		if i == len(args)-1 {
			fn(badKey, args[i])
			return
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		fn(key, args[i+1])
	}
}
