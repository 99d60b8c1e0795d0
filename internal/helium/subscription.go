package helium

// Subscription is a live feed of raw case event messages, one JSON document
// per message, delivered in order.
type Subscription interface {
	// Messages is closed when the feed ends, after which Err reports why.
	Messages() <-chan []byte
	// Err returns the error that ended the feed, or nil after Close.
	Err() error
	// Close releases the feed. It is safe to call more than once.
	Close() error
}

// ProgressFunc receives upload progress in bytes. total is zero when unknown.
type ProgressFunc func(loaded, total int64)
