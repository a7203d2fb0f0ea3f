package room

import (
	"errors"

	"github.com/parleylab/parley/internal/signal"
)

var (
	ErrRoomClosed    = errors.New("room: session closed")
	ErrAlreadyJoined = signal.NewError(signal.CodeBadRequest, "peer already joined")
	ErrNotJoined     = signal.NewError(signal.CodeBadRequest, "peer not yet joined")
)

func errTransportNotFound(id string) error {
	return signal.NewError(signal.CodeNotFound, "transport with id %q not found", id)
}

func errProducerNotFound(id string) error {
	return signal.NewError(signal.CodeNotFound, "producer with id %q not found", id)
}

func errConsumerNotFound(id string) error {
	return signal.NewError(signal.CodeNotFound, "consumer with id %q not found", id)
}

func errDataProducerNotFound(id string) error {
	return signal.NewError(signal.CodeNotFound, "dataProducer with id %q not found", id)
}

func errDataConsumerNotFound(id string) error {
	return signal.NewError(signal.CodeNotFound, "dataConsumer with id %q not found", id)
}

func errBroadcasterNotFound(id string) error {
	return signal.NewError(signal.CodeNotFound, "broadcaster with id %q not found", id)
}
