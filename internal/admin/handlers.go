package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"aquabridge/internal/store"
	"aquabridge/internal/types"
)

// MutationResult is the response body of a successful mutation.
type MutationResult struct {
	OK        bool   `json:"ok"`
	AlertID   string `json:"alert_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	NewStatus string `json:"new_status,omitempty"`
}

// MutationHandler handles one named admin action. Handlers are pure over
// (principal, body); routing picks them from the dispatch table.
type MutationHandler func(ctx context.Context, principal Principal, body json.RawMessage) (*MutationResult, error)

// Mutations is the dispatch table mapping action names to handlers.
type Mutations struct {
	alerts  *store.AlertStore
	devices *store.DeviceStore
	table   map[string]MutationHandler
}

// NewMutations builds the dispatch table over the metadata store.
func NewMutations(alerts *store.AlertStore, devices *store.DeviceStore) *Mutations {
	m := &Mutations{
		alerts:  alerts,
		devices: devices,
	}
	m.table = map[string]MutationHandler{
		"acknowledge_alert": m.acknowledgeAlert,
		"resolve_alert":     m.resolveAlert,
		"update_device":     m.updateDevice,
	}
	return m
}

// Dispatch routes an action to its handler. The principal must already
// be an authenticated admin; Dispatch double-checks and refuses to touch
// storage otherwise.
func (m *Mutations) Dispatch(ctx context.Context, action string, principal Principal, body json.RawMessage) (*MutationResult, error) {
	if !principal.IsAdmin() {
		return nil, fmt.Errorf("%w: admin role required", ErrAuthFailure)
	}
	handler, ok := m.table[action]
	if !ok {
		return nil, fmt.Errorf("unknown action %q", action)
	}
	return handler(ctx, principal, body)
}

// Actions returns the registered action names.
func (m *Mutations) Actions() []string {
	names := make([]string, 0, len(m.table))
	for name := range m.table {
		names = append(names, name)
	}
	return names
}

type acknowledgeRequest struct {
	AlertID string `json:"alert_id"`
}

func (m *Mutations) acknowledgeAlert(ctx context.Context, principal Principal, body json.RawMessage) (*MutationResult, error) {
	var req acknowledgeRequest
	if err := json.Unmarshal(body, &req); err != nil || req.AlertID == "" {
		return nil, fmt.Errorf("acknowledge_alert requires alert_id")
	}

	alert, err := m.alerts.Acknowledge(ctx, req.AlertID, principal.UserID)
	if err != nil {
		return nil, err
	}
	return &MutationResult{
		OK:        true,
		AlertID:   alert.AlertID,
		NewStatus: string(alert.Status),
	}, nil
}

type resolveRequest struct {
	AlertID string `json:"alert_id"`
	Notes   string `json:"notes,omitempty"`
}

func (m *Mutations) resolveAlert(ctx context.Context, principal Principal, body json.RawMessage) (*MutationResult, error) {
	var req resolveRequest
	if err := json.Unmarshal(body, &req); err != nil || req.AlertID == "" {
		return nil, fmt.Errorf("resolve_alert requires alert_id")
	}

	alert, err := m.alerts.Resolve(ctx, req.AlertID, principal.UserID, req.Notes)
	if err != nil {
		return nil, err
	}
	return &MutationResult{
		OK:        true,
		AlertID:   alert.AlertID,
		NewStatus: string(alert.Status),
	}, nil
}

type updateDeviceRequest struct {
	DeviceID string            `json:"device_id"`
	Patch    store.DevicePatch `json:"patch"`
}

func (m *Mutations) updateDevice(ctx context.Context, principal Principal, body json.RawMessage) (*MutationResult, error) {
	var req updateDeviceRequest
	if err := json.Unmarshal(body, &req); err != nil || req.DeviceID == "" {
		return nil, fmt.Errorf("update_device requires device_id")
	}

	if req.Patch.Status != nil {
		status := types.DeviceStatus(*req.Patch.Status)
		switch status {
		case types.DeviceStatusOnline, types.DeviceStatusOffline,
			types.DeviceStatusError, types.DeviceStatusMaintenance:
		default:
			return nil, fmt.Errorf("invalid device status %q", *req.Patch.Status)
		}
	}

	device, err := m.devices.UpdateDevice(ctx, req.DeviceID, req.Patch)
	if err != nil {
		return nil, err
	}
	return &MutationResult{
		OK:        true,
		DeviceID:  device.DeviceID,
		NewStatus: string(device.Status),
	}, nil
}

// classifyError maps store errors onto stable API error codes.
func classifyError(err error) (status int, code string) {
	switch {
	case errors.Is(err, ErrAuthFailure):
		return 401, "auth_failure"
	case errors.Is(err, store.ErrNotFound):
		return 404, "not_found"
	case errors.Is(err, store.ErrInvalidTransition):
		return 409, "invalid_transition"
	default:
		return 400, "bad_request"
	}
}
