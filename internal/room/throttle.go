package room

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/parleylab/parley/internal/signal"
)

// Throttler applies a process-wide network impairment for diagnostics.
type Throttler interface {
	Apply(opts ThrottleOptions) error
	Reset() error
}

type ThrottleOptions struct {
	Uplink     int `json:"uplink,omitempty"`
	Downlink   int `json:"downlink,omitempty"`
	RTT        int `json:"rtt,omitempty"`
	PacketLoss int `json:"packetLoss,omitempty"`
}

func (r *Room) handleApplyNetworkThrottle(data json.RawMessage) error {
	var req struct {
		Secret string `json:"secret"`
		ThrottleOptions
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	if err := r.checkThrottleSecret(req.Secret); err != nil {
		return err
	}

	if r.throttler != nil {
		if err := r.throttler.Apply(req.ThrottleOptions); err != nil {
			return signal.NewError(signal.CodeInternal, "apply network throttle: %s", err)
		}
	} else {
		log.Warn().Str("module", "room").Msg("network throttle requested but no throttler installed")
	}

	r.mu.Lock()
	r.networkThrottled = true
	r.mu.Unlock()

	log.Info().Str("module", "room").
		Int("uplink", req.Uplink).Int("downlink", req.Downlink).
		Int("rtt", req.RTT).Int("packetLoss", req.PacketLoss).
		Msg("network throttle applied")
	return nil
}

func (r *Room) handleResetNetworkThrottle(data json.RawMessage) error {
	var req struct {
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	if err := r.checkThrottleSecret(req.Secret); err != nil {
		return err
	}

	if r.throttler != nil {
		if err := r.throttler.Reset(); err != nil {
			return signal.NewError(signal.CodeInternal, "reset network throttle: %s", err)
		}
	}

	r.mu.Lock()
	r.networkThrottled = false
	r.mu.Unlock()

	log.Info().Str("module", "room").Msg("network throttle reset")
	return nil
}

func (r *Room) checkThrottleSecret(secret string) error {
	if r.cfg.ThrottleSecret == "" || secret != r.cfg.ThrottleSecret {
		return signal.NewError(signal.CodeForbidden, "operation not allowed, invalid secret")
	}
	return nil
}
