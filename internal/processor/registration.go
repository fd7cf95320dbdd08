package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"aquabridge/internal/queue"
	"aquabridge/internal/store"
	"aquabridge/internal/types"
)

// ProcessRegistration handles one queue message from the registration
// topic. A known device gets a throttled last_seen touch; an unknown one
// becomes an unregistered stub awaiting a location assignment. A stub
// never unlocks data ingestion on its own.
func (p *Processor) ProcessRegistration(ctx context.Context, msg *queue.Message) error {
	var reg types.RegistrationMessage
	if err := json.Unmarshal(msg.Body, &reg); err != nil {
		p.logger.WithError(err).WithField("device_id", msg.DeviceID).
			Warn("Dropping unparseable registration message")
		p.bump(func(s *Stats) { s.Dropped++ })
		return nil
	}
	if reg.DeviceID == "" {
		reg.DeviceID = msg.DeviceID
	}
	if reg.DeviceID == "" {
		p.logger.Warn("Dropping registration message without device id")
		p.bump(func(s *Stats) { s.Dropped++ })
		return nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()

	device, err := p.devices.GetDevice(storeCtx, reg.DeviceID)
	if err == nil {
		if p.throttle.Allow(device.DeviceID, device.LastSeen) {
			if err := p.devices.TouchStatus(storeCtx, device.DeviceID, types.DeviceStatusOnline, time.Now()); err != nil {
				return fmt.Errorf("failed to touch registered device %s: %w", device.DeviceID, err)
			}
			p.bump(func(s *Stats) { s.StatusWrites++ })
		}
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to load device %s: %w", reg.DeviceID, err)
	}

	if err := p.devices.CreateStub(storeCtx, reg); err != nil {
		return fmt.Errorf("failed to create device stub %s: %w", reg.DeviceID, err)
	}

	p.logger.WithFields(logrus.Fields{
		"device_id": reg.DeviceID,
		"name":      reg.Name,
		"type":      reg.Type,
	}).Info("Created unregistered device stub")
	return nil
}
