package feed

import "errors"

// ErrSubscriptionLimit indicates the configured maximum subscription count
// was exceeded. This is a fatal configuration error: the request is rejected
// and setup should abort.
var ErrSubscriptionLimit = errors.New("feed: maximum subscription count exceeded")

// ErrIncompatibleConsolidator indicates a consolidator's input kind does not
// match the subscription's record kind.
var ErrIncompatibleConsolidator = errors.New("feed: consolidator input kind does not match subscription")
