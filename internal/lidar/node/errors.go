package node

import (
	"errors"
	"fmt"

	"github.com/banshee-data/lidar-synth/internal/lidar/network"
	"github.com/banshee-data/lidar-synth/internal/lidar/ouster"
)

// Error kinds returned by Compute. Every error Compute returns matches
// exactly one of them with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrRange         = errors.New("range error")
	ErrSocket        = errors.New("socket error")
	ErrInternal      = errors.New("internal fault")
)

// ErrReentrant is returned when Compute is called on a State that is
// already computing.
var ErrReentrant = fmt.Errorf("%w: state is already computing", ErrInternal)

var kinds = []error{ErrConfiguration, ErrRange, ErrSocket, ErrInternal}

// Kind returns the error kind err belongs to, or nil for a nil error.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}

// classify wraps a lower-layer error with its kind.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrRange),
		errors.Is(err, ErrSocket), errors.Is(err, ErrInternal):
		return err
	case errors.Is(err, ouster.ErrRowCount),
		errors.Is(err, ouster.ErrColumnCount),
		errors.Is(err, ouster.ErrShortBuffer),
		errors.Is(err, network.ErrDestination):
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	case errors.Is(err, ouster.ErrEncoderRange):
		return fmt.Errorf("%w: %w", ErrRange, err)
	case errors.Is(err, network.ErrSocket),
		errors.Is(err, network.ErrNotReady),
		errors.Is(err, network.ErrSenderClosed):
		return fmt.Errorf("%w: %w", ErrSocket, err)
	}
	return fmt.Errorf("%w: %w", ErrInternal, err)
}
