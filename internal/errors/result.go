package errors

// Result 带标签的操作结果：要么是值，要么是带代码的错误。
// 调用方必须先检查 IsOk 才能取值，降级结果不会被误当作成功。
type Result[T any] struct {
	value T
	err   *AppError
}

// Ok 创建成功结果
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// Err 创建失败结果
func Err[T any](err error) Result[T] {
	appErr := Wrap(err, ErrCodeInternal, "operation failed")
	if appErr == nil {
		appErr = New(ErrCodeInternal, "operation failed with nil error", nil)
	}
	return Result[T]{err: appErr}
}

// IsOk 是否成功
func (r Result[T]) IsOk() bool {
	return r.err == nil
}

// Unwrap 返回值和错误
func (r Result[T]) Unwrap() (T, error) {
	if r.err != nil {
		var zero T
		return zero, r.err
	}
	return r.value, nil
}

// Value 返回值，失败时返回零值
func (r Result[T]) Value() T {
	return r.value
}

// Error 返回错误，成功时为nil
func (r Result[T]) Error() *AppError {
	return r.err
}

// Code 返回错误代码，成功时为空
func (r Result[T]) Code() ErrorCode {
	if r.err == nil {
		return ""
	}
	return r.err.Code
}
