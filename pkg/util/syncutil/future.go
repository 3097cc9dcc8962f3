package syncutil

// Future 表示一个只会被置值一次的异步结果。
type Future[T any] struct {
	ch    chan struct{}
	value T
}

// NewFuture 创建一个未完成的 Future。
func NewFuture[T any]() *Future[T] {
	return &Future[T]{
		ch: make(chan struct{}),
	}
}

// Set 设置结果并唤醒所有等待方。
// 重复调用会 panic，调用方需保证只置值一次。
func (f *Future[T]) Set(value T) {
	f.value = value
	close(f.ch)
}

// Get 阻塞直到结果就绪并返回。
func (f *Future[T]) Get() T {
	<-f.ch
	return f.value
}

// Done 返回结果就绪时关闭的通道。
func (f *Future[T]) Done() <-chan struct{} {
	return f.ch
}

// Ready 判断结果是否已经就绪。
func (f *Future[T]) Ready() bool {
	select {
	case <-f.ch:
		return true
	default:
		return false
	}
}
