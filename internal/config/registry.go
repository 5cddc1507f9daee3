package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrDeviceNotRegistered is returned by [Registry.CreateDevice] when no
// factory has been registered under the requested backend name.
var ErrDeviceNotRegistered = errors.New("config: device backend not registered")

// Device is an audio backend providing both capture and playback streams.
type Device interface {
	audio.InputDevice
	audio.OutputDevice
}

// DeviceFactory builds a [Device] from the audio section of the config.
type DeviceFactory func(AudioConfig) (Device, error)

// Registry maps device backend names to their factories. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]DeviceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]DeviceFactory)}
}

// RegisterDevice registers a device backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDevice(name string, factory DeviceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[name] = factory
}

// CreateDevice instantiates the backend named by cfg.Device.
// Returns [ErrDeviceNotRegistered] if no factory has been registered for that
// name.
func (r *Registry) CreateDevice(cfg AudioConfig) (Device, error) {
	r.mu.RLock()
	factory, ok := r.devices[cfg.Device]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotRegistered, cfg.Device)
	}
	dev, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create device %q: %w", cfg.Device, err)
	}
	return dev, nil
}

// DeviceNames returns the registered backend names in sorted order.
func (r *Registry) DeviceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.devices))
	for name := range r.devices {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
