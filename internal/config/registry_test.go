package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/parley/internal/config"
	audiomock "github.com/MrWong99/parley/pkg/audio/mock"
)

type mockDevice struct {
	audiomock.InputDevice
	audiomock.OutputDevice
}

func TestRegistry_CreateDevice(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	want := &mockDevice{}
	var got config.AudioConfig
	r.RegisterDevice("mock", func(cfg config.AudioConfig) (config.Device, error) {
		got = cfg
		return want, nil
	})

	dev, err := r.CreateDevice(config.AudioConfig{Device: "mock", DeviceBufferFrames: 256})
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	if dev != want {
		t.Error("CreateDevice returned a different device")
	}
	if got.DeviceBufferFrames != 256 {
		t.Errorf("factory got %+v", got)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	_, err := config.NewRegistry().CreateDevice(config.AudioConfig{Device: "nope"})
	if !errors.Is(err, config.ErrDeviceNotRegistered) {
		t.Fatalf("err = %v, want ErrDeviceNotRegistered", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	boom := errors.New("no sound card")
	r.RegisterDevice("broken", func(config.AudioConfig) (config.Device, error) { return nil, boom })

	_, err := r.CreateDevice(config.AudioConfig{Device: "broken"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestRegistry_DeviceNames(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	factory := func(config.AudioConfig) (config.Device, error) { return &mockDevice{}, nil }
	r.RegisterDevice("null", factory)
	r.RegisterDevice("malgo", factory)
	r.RegisterDevice("null", factory)

	if got := r.DeviceNames(); !slices.Equal(got, []string{"malgo", "null"}) {
		t.Errorf("DeviceNames = %v", got)
	}
}
