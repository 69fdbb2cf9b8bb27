/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package topology

import (
	"context"
)

// Subscription is handed to a Subscriber when activation reaches it.
// Cancel propagates upstream synchronously and is safe to call more than once.
type Subscription interface {
	Cancel()
}

// Subscriber receives the signals of a Publisher. Signals are never delivered
// concurrently to the same Subscriber. OnError and OnComplete are terminal.
type Subscriber interface {
	OnSubscribe(ctx context.Context, s Subscription)
	OnNext(ctx context.Context, v interface{})
	OnError(ctx context.Context, err error)
	OnComplete(ctx context.Context)
}

// Publisher activates on Subscribe. Activation travels upstream, signals travel
// back down to the Subscriber.
type Publisher interface {
	Subscribe(ctx context.Context, sub Subscriber)
}

// CancelledSubscription is handed out when activation fails before reaching the source.
var CancelledSubscription Subscription = cancelled{}

type cancelled struct{}

func (cancelled) Cancel() {}
