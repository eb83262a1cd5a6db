package engine

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/bhosie/chronoaudio/internal/config"
)

// Initialize sets up the PortAudio subsystem. Must be called before any
// graph is opened and paired with a Terminate call.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

// Terminate shuts down the PortAudio subsystem.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// Device describes an audio output device for the CLI listing.
type Device struct {
	ID                int
	Name              string
	MaxOutputChannels int
	DefaultSampleRate float64
}

// OutputDevices returns every device that can render audio.
func OutputDevices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	var devices []Device
	for i, info := range infos {
		if info.MaxOutputChannels == 0 {
			continue
		}
		devices = append(devices, Device{
			ID:                i,
			Name:              info.Name,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
		})
	}
	return devices, nil
}

// outputDeviceInfo resolves a device ID to PortAudio's device info.
// config.DefaultOutputDevice (-1) selects the system default.
func outputDeviceInfo(deviceID int) (*portaudio.DeviceInfo, error) {
	if deviceID == config.DefaultOutputDevice {
		dev, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default output device: %w", err)
		}
		return dev, nil
	}

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	if deviceID < 0 || deviceID >= len(infos) {
		return nil, fmt.Errorf("invalid device ID %d (have %d devices)", deviceID, len(infos))
	}
	if infos[deviceID].MaxOutputChannels == 0 {
		return nil, fmt.Errorf("device %d (%s) has no output channels", deviceID, infos[deviceID].Name)
	}
	return infos[deviceID], nil
}
