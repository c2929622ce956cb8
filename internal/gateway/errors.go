package gateway

import "errors"

var (
	// ErrNoBroker indicates the gateway was constructed without a broker.
	ErrNoBroker = errors.New("gateway: broker is required")

	// ErrNoDevices indicates the configuration defines no devices.
	ErrNoDevices = errors.New("gateway: no devices configured")

	// ErrEmptyPayload indicates an inbound message carried no usable value.
	ErrEmptyPayload = errors.New("gateway: empty payload")
)
