package embedding

import "fmt"

// Expand widens a native vector to target elements by repeating it
// floor(target/len(native)) times and zero-padding the remainder, so
// [1,2] with target 5 becomes [1,2,1,2,0]. A vector already at target
// length is returned unchanged. Vectors longer than target cannot be
// widened and produce an error.
//
// The repeated blocks carry no new information; they exist to satisfy a
// fixed-width storage schema.
func Expand(native []float32, target int) ([]float32, error) {
	d := len(native)
	switch {
	case d == 0:
		return nil, fmt.Errorf("native vector is empty")
	case target <= 0 || d == target:
		return native, nil
	case d > target:
		return nil, fmt.Errorf("native dimension %d exceeds target dimension %d", d, target)
	}

	out := make([]float32, target)
	r := target / d
	for i := 0; i < r; i++ {
		copy(out[i*d:], native)
	}
	return out, nil
}
