package mqtt

import "errors"

// Sentinel errors. Callers match them with errors.Is; the returned error
// carries the broker or topic detail.
var (
	ErrNotConnected      = errors.New("mqtt: not connected to broker")
	ErrConnectionFailed  = errors.New("mqtt: broker connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
	ErrTimeout           = errors.New("mqtt: broker did not acknowledge in time")

	// ErrInvalidQoS rejects QoS levels other than 0, 1 and 2.
	ErrInvalidQoS   = errors.New("mqtt: invalid QoS level")
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
