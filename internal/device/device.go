// Package device implements C8: output device enumeration, cue-device
// selection, and the PortAudio stream lifecycle for the primary and cue
// audio outputs.
//
// Library: github.com/gordonklaus/portaudio, sourced from the pack's
// doismellburning-samoyed go.mod (declared there for ham-radio audio
// I/O, not actually exercised in that repo's source — still a legitimate
// pack-declared dependency) and confirmed as the idiomatic choice for
// this domain by Alexander-D-Karpov-amp's manifest, which pairs it with
// gopxl/beep for a desktop music player's playback + device I/O, the
// closest pack analogue to this spec's C7/C8.
package device

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/opendj/engine/internal/engineerr"
	"github.com/opendj/engine/internal/models"
)

// Callback produces one block of interleaved stereo samples for a stream.
type Callback func(out []float32)

// LostHandler is invoked when the OS reports a device has disappeared
// out from under a running stream (spec §4.8: "automatic reconnection is
// not required").
type LostHandler func(streamName string)

// Manager owns the primary output stream (fixed at startup) and an
// optional cue output stream, plus device enumeration/selection.
type Manager struct {
	mu sync.Mutex

	primaryName string
	primary     *portaudio.Stream

	cueName string
	cue     *portaudio.Stream

	onLost LostHandler
}

// New initializes PortAudio. Callers must call Close when done.
func New(onLost LostHandler) (*Manager, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, engineerr.Wrap(engineerr.DeviceUnavailable, "initialize portaudio", err)
	}
	return &Manager{onLost: onLost}, nil
}

// Close tears down any running streams and terminates PortAudio.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(&m.primary)
	m.stopLocked(&m.cue)
	if err := portaudio.Terminate(); err != nil {
		slog.Warn("device: terminate portaudio", "error", err)
	}
}

// ListDevices enumerates output-capable devices and reports the current
// cue-output selection, per spec §4.8.
func (m *Manager) ListDevices() ([]models.DeviceInfo, models.DeviceSelection, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, models.DeviceSelection{}, engineerr.Wrap(engineerr.DeviceUnavailable, "enumerate devices", err)
	}

	def, _ := portaudio.DefaultOutputDevice()

	out := make([]models.DeviceInfo, 0, len(devices))
	for _, dev := range devices {
		if dev.MaxOutputChannels <= 0 {
			continue
		}
		out = append(out, models.DeviceInfo{
			Name:        dev.Name,
			IsDefault:   def != nil && dev.Name == def.Name,
			SampleRate:  int(dev.DefaultSampleRate),
			MaxChannels: dev.MaxOutputChannels,
		})
	}

	m.mu.Lock()
	sel := models.DeviceSelection{CueOutput: m.cueName}
	m.mu.Unlock()

	return out, sel, nil
}

// StartPrimary opens and starts the primary output stream. Primary device
// selection is a startup choice and is not user-switchable (spec §4.8);
// deviceName == "" selects the system default.
func (m *Manager) StartPrimary(deviceName string, sampleRate, framesPerBuffer int, cb Callback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stream, err := m.openStream(deviceName, sampleRate, framesPerBuffer, cb, "primary")
	if err != nil {
		return err
	}
	m.primaryName = deviceName
	m.primary = stream
	return stream.Start()
}

// SetCueOutputDevice transitions the cue stream to the named device, or
// tears it down if name == "" (spec §4.8's `null` case).
func (m *Manager) SetCueOutputDevice(name string, sampleRate, framesPerBuffer int, cb Callback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked(&m.cue)
	m.cueName = ""
	if name == "" {
		return nil
	}

	stream, err := m.openStream(name, sampleRate, framesPerBuffer, cb, "cue")
	if err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		return engineerr.Wrap(engineerr.DeviceUnavailable, "start cue stream", err)
	}
	m.cueName = name
	m.cue = stream
	return nil
}

// Refresh rescans devices; the cue selection is preserved if the named
// device still exists, otherwise cleared (spec §4.8).
func (m *Manager) Refresh() error {
	devices, _, err := m.ListDevices()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cueName == "" {
		return nil
	}
	for _, d := range devices {
		if d.Name == m.cueName {
			return nil
		}
	}
	m.stopLocked(&m.cue)
	m.cueName = ""
	return nil
}

func (m *Manager) openStream(deviceName string, sampleRate, framesPerBuffer int, cb Callback, which string) (*portaudio.Stream, error) {
	var devInfo *portaudio.DeviceInfo
	if deviceName == "" {
		d, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, engineerr.Wrap(engineerr.DeviceUnavailable, "default output device", err)
		}
		devInfo = d
	} else {
		devices, err := portaudio.Devices()
		if err != nil {
			return nil, engineerr.Wrap(engineerr.DeviceUnavailable, "enumerate devices", err)
		}
		for _, d := range devices {
			if d.Name == deviceName {
				devInfo = d
				break
			}
		}
		if devInfo == nil {
			return nil, engineerr.New(engineerr.DeviceUnavailable, fmt.Sprintf("device %q not found", deviceName))
		}
	}

	params := portaudio.HighLatencyParameters(nil, devInfo)
	params.Output.Channels = 2
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = framesPerBuffer

	stream, err := portaudio.OpenStream(params, func(out []float32) {
		cb(out)
	})
	if err != nil {
		return nil, engineerr.Wrap(engineerr.DeviceUnavailable, fmt.Sprintf("open %s stream", which), err)
	}
	return stream, nil
}

// ReportLost notifies the registered handler that a stream's device has
// disappeared; the caller (the audio callback's error path) is
// responsible for detecting the OS-reported loss and invoking this.
func (m *Manager) ReportLost(streamName string) {
	m.mu.Lock()
	switch streamName {
	case "primary":
		m.stopLocked(&m.primary)
	case "cue":
		m.stopLocked(&m.cue)
		m.cueName = ""
	}
	m.mu.Unlock()
	if m.onLost != nil {
		m.onLost(streamName)
	}
}

func (m *Manager) stopLocked(stream **portaudio.Stream) {
	if *stream == nil {
		return
	}
	if err := (*stream).Stop(); err != nil {
		slog.Debug("device: stop stream", "error", err)
	}
	if err := (*stream).Close(); err != nil {
		slog.Debug("device: close stream", "error", err)
	}
	*stream = nil
}
