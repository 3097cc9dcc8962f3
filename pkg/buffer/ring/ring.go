package ring

// Ring 是固定容量的泛型环形缓冲区。
// 写满后继续写入会覆盖最旧的元素，非并发安全，调用方自行加锁。
type Ring[T any] struct {
	items []T
	head  int
	size  int
}

// New 创建容量为 cap 的环形缓冲区，cap 必须大于 0。
func New[T any](cap int) *Ring[T] {
	if cap <= 0 {
		panic("ring: capacity must be positive")
	}
	return &Ring[T]{
		items: make([]T, cap),
	}
}

// Push 追加一个元素，若缓冲区已满则覆盖最旧的元素并返回 true。
func (r *Ring[T]) Push(item T) (evicted bool) {
	tail := (r.head + r.size) % len(r.items)
	r.items[tail] = item
	if r.size == len(r.items) {
		r.head = (r.head + 1) % len(r.items)
		return true
	}
	r.size++
	return false
}

// Len 返回缓冲区中当前元素数量。
func (r *Ring[T]) Len() int {
	return r.size
}

// Cap 返回缓冲区容量。
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Snapshot 按写入顺序返回所有元素的拷贝。
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(r.head+i)%len(r.items)])
	}
	return out
}

// DrainWhere 按写入顺序取出所有满足 pred 的元素，其余元素保留原有顺序。
func (r *Ring[T]) DrainWhere(pred func(T) bool) []T {
	var taken []T
	var kept []T
	for i := 0; i < r.size; i++ {
		item := r.items[(r.head+i)%len(r.items)]
		if pred(item) {
			taken = append(taken, item)
		} else {
			kept = append(kept, item)
		}
	}

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
	for _, item := range kept {
		r.Push(item)
	}
	return taken
}

// Reset 清空缓冲区。
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}
