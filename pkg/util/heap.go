package util

// Heap helpers over a slice. less defines the root: x[0] is the element
// for which less(x[0], y) holds against every other y.

func HeapFix[T any](x []T, index int, less func(a, b T) bool) {
	heapSiftDown(x, index, less)
	heapSiftUp(x, index, less)
}

func HeapPop[T any](x *[]T, less func(a, b T) bool) T {
	ret := (*x)[0]
	(*x)[0], *x = (*x)[len(*x)-1], (*x)[:len(*x)-1]
	if len(*x) > 0 {
		heapSiftDown(*x, 0, less)
	}
	return ret
}

func HeapPush[T any](x *[]T, item T, less func(a, b T) bool) {
	*x = append(*x, item)
	heapSiftUp(*x, len(*x)-1, less)
}

func HeapInit[T any](x []T, less func(a, b T) bool) {
	for i := len(x)/2 - 1; i >= 0; i-- {
		heapSiftDown(x, i, less)
	}
}

func heapSiftUp[T any](x []T, index int, less func(a, b T) bool) {
	for index > 0 {
		p := (index - 1) / 2
		if !less(x[index], x[p]) {
			break
		}
		x[p], x[index] = x[index], x[p]
		index = p
	}
}

func heapSiftDown[T any](x []T, index int, less func(a, b T) bool) {
	for {
		left := index*2 + 1
		right := left + 1
		if left >= len(x) {
			break
		}
		c := left
		if right < len(x) && less(x[right], x[left]) {
			c = right
		}
		if !less(x[c], x[index]) {
			break
		}
		x[c], x[index] = x[index], x[c]
		index = c
	}
}
