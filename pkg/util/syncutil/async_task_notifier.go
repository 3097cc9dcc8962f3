package syncutil

import "context"

// AsyncTaskNotifier 用于协调一个后台任务的取消与完成。
//
// 说明：
//   - 任务方通过 Context() 感知取消信号，结束时必须调用 Finish；
//   - 控制方通过 Cancel 发起取消，通过 BlockUntilFinish 等待任务退出。
type AsyncTaskNotifier[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	future *Future[T]
}

// NewAsyncTaskNotifier 创建一个新的任务通知器。
func NewAsyncTaskNotifier[T any]() *AsyncTaskNotifier[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncTaskNotifier[T]{
		ctx:    ctx,
		cancel: cancel,
		future: NewFuture[T](),
	}
}

// Context 返回任务生命周期绑定的上下文。
func (n *AsyncTaskNotifier[T]) Context() context.Context {
	return n.ctx
}

// Cancel 通知任务退出。
func (n *AsyncTaskNotifier[T]) Cancel() {
	n.cancel()
}

// Finish 由任务方在退出前调用，记录任务结果。
func (n *AsyncTaskNotifier[T]) Finish(result T) {
	n.future.Set(result)
}

// FinishChan 返回任务完成时关闭的通道。
func (n *AsyncTaskNotifier[T]) FinishChan() <-chan struct{} {
	return n.future.Done()
}

// BlockUntilFinish 阻塞直到任务调用 Finish。
func (n *AsyncTaskNotifier[T]) BlockUntilFinish() {
	n.future.Get()
}

// BlockAndGetResult 阻塞直到任务完成并返回结果。
func (n *AsyncTaskNotifier[T]) BlockAndGetResult() T {
	return n.future.Get()
}
