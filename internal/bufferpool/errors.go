package bufferpool

type poolError string

func (e poolError) Error() string { return string(e) }

const (
	// ErrUntrackedBuffer is returned by Release when the buffer is not
	// currently held out from the pool for that kind.
	ErrUntrackedBuffer = poolError("bufferpool: untracked buffer")
	// ErrPoolExhausted is returned by Acquire when no buffer is
	// available and growth would exceed max_pool_size.
	ErrPoolExhausted = poolError("bufferpool: exhausted")
	// ErrResizeBelowInUse is returned by Resize when new_max is less
	// than the number of buffers currently in use.
	ErrResizeBelowInUse = poolError("bufferpool: resize below in-use count")
	// ErrClearWhileInUse is returned by Clear while any buffer is
	// outstanding.
	ErrClearWhileInUse = poolError("bufferpool: clear while buffers outstanding")
	// ErrUnknownKind is returned for any operation against a stream
	// kind the pool was not configured with.
	ErrUnknownKind = poolError("bufferpool: unknown stream kind")
)
