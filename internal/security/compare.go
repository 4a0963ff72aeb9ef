package security

// ConstantTimeEqual compares two byte slices without leaking where they
// differ. The loop always runs over the longer of the two lengths and the
// length check is folded into the accumulator rather than short-circuiting,
// so unequal lengths do not return early.
func ConstantTimeEqual(a, b []byte) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}

	var acc byte
	if len(a) != len(b) {
		acc = 1
	}
	for i := 0; i < n; i++ {
		var x, y byte
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		acc |= x ^ y
	}
	return acc == 0
}

// ConstantTimeEqualString is ConstantTimeEqual over strings.
func ConstantTimeEqualString(a, b string) bool {
	return ConstantTimeEqual([]byte(a), []byte(b))
}
