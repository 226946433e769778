package main

// closers releases resources in reverse registration order, so the price
// stream registered last stops before the stores it writes to close.
type closers []func()

func (c *closers) push(fns ...func()) {
	*c = append(*c, fns...)
}

// run takes a pointer so a deferred call sees closers pushed after it.
func (c *closers) run() {
	for i := len(*c) - 1; i >= 0; i-- {
		(*c)[i]()
	}
}
