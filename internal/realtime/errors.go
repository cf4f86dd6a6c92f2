package realtime

import "fmt"

// normalizeError converts any recovered or returned value into an error so
// the observable error surface stays uniform regardless of what a caller
// callback threw.
func normalizeError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("%v", v)
}
