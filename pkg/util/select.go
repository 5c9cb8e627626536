package util

// SelectNth partially orders x so that x[n] holds the element a full sort
// by less would put there, every element before it is not after it and
// every element behind it is not before it.
func SelectNth[T any](x []T, n int, less func(a, b T) bool) {
	AssertFunc(n >= 0 && n < len(x))
	lo, hi := 0, len(x)-1
	for lo < hi {
		p := selectPartition(x, lo, hi, less)
		switch {
		case p == n:
			return
		case p < n:
			lo = p + 1
		default:
			hi = p - 1
		}
	}
}

// selectPartition partitions x[lo:hi+1] around a median of three and
// returns the final pivot position.
func selectPartition[T any](x []T, lo, hi int, less func(a, b T) bool) int {
	mid := lo + (hi-lo)/2
	if less(x[mid], x[lo]) {
		x[mid], x[lo] = x[lo], x[mid]
	}
	if less(x[hi], x[lo]) {
		x[hi], x[lo] = x[lo], x[hi]
	}
	if less(x[hi], x[mid]) {
		x[hi], x[mid] = x[mid], x[hi]
	}
	//pivot to the end
	x[mid], x[hi] = x[hi], x[mid]
	pivot := x[hi]
	store := lo
	for i := lo; i < hi; i++ {
		if less(x[i], pivot) {
			x[i], x[store] = x[store], x[i]
			store++
		}
	}
	x[store], x[hi] = x[hi], x[store]
	return store
}

// SelectTop moves the k first elements by less to the front of x in no
// particular order.
func SelectTop[T any](x []T, k int, less func(a, b T) bool) {
	if k <= 0 || k >= len(x) {
		return
	}
	SelectNth(x, k-1, less)
}
