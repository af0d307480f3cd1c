package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/gen2brain/malgo"
)

// ErrNoInputDevice is returned when no acceptable capture device exists.
var ErrNoInputDevice = errors.New("audio: no usable input device")

// Capture owns one open microphone device feeding a [Ring].
//
// Device handles are thread-affine on Windows and macOS, so a Capture must
// be created, started, and closed on the same goroutine. The pipeline locks
// its OS thread and keeps the Capture for the whole session.
type Capture struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	ring       *Ring
	mono       []float32
	SampleRate int
	DeviceName string
}

// ListDevices enumerates capture devices.
func ListDevices() ([]Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("audio: enumerate devices: %w", err)
	}
	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		})
	}
	return devices, nil
}

// OpenCapture selects a device (see [SelectDevice]), opens it in f32 format
// at its native rate, and starts streaming into ring. The device callback
// mixes interleaved frames down to mono before writing; it never blocks and
// never allocates after the first frame.
//
// Must be called on the goroutine that will also call [Capture.Close].
func OpenCapture(ring *Ring, preferred string) (*Capture, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "msg", message)
	})
	if err != nil {
		return nil, fmt.Errorf("audio: init context: %w", err)
	}

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("audio: enumerate devices: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{Name: info.Name(), IsDefault: info.IsDefault != 0})
	}
	chosen, ok := SelectDevice(devices, preferred)
	if !ok {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, ErrNoInputDevice
	}
	if IsLoopbackName(chosen.Name) {
		slog.Warn("selected device looks like a loopback source, expect system audio instead of the microphone",
			"device", chosen.Name)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Alsa.NoMMap = 1
	for _, info := range infos {
		if info.Name() == chosen.Name {
			id := info.ID
			cfg.Capture.DeviceID = id.Pointer()
			break
		}
	}

	c := &Capture{ctx: ctx, ring: ring, DeviceName: chosen.Name}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			c.onFrames(input, frameCount)
		},
	}
	device, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("audio: open device %q: %w", chosen.Name, err)
	}
	c.device = device
	c.SampleRate = int(device.SampleRate())

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("audio: start device %q: %w", chosen.Name, err)
	}

	slog.Info("capture started",
		"device", c.DeviceName,
		"sample_rate", c.SampleRate,
		"channels", device.CaptureChannels(),
	)
	return c, nil
}

// onFrames runs on the device's real-time thread. Interleaved f32 frames are
// averaged across channels into the mono scratch buffer and pushed to the
// ring.
func (c *Capture) onFrames(input []byte, frameCount uint32) {
	channels := int(c.device.CaptureChannels())
	if channels <= 0 {
		channels = 1
	}
	frames := int(frameCount)
	if cap(c.mono) < frames {
		c.mono = make([]float32, frames)
	}
	mono := c.mono[:frames]

	if channels == 1 {
		for i := 0; i < frames; i++ {
			bits := binary.LittleEndian.Uint32(input[i*4:])
			mono[i] = math.Float32frombits(bits)
		}
	} else {
		scale := 1.0 / float32(channels)
		for i := 0; i < frames; i++ {
			var sum float32
			base := i * channels * 4
			for ch := 0; ch < channels; ch++ {
				bits := binary.LittleEndian.Uint32(input[base+ch*4:])
				sum += math.Float32frombits(bits)
			}
			mono[i] = sum * scale
		}
	}
	c.ring.Write(mono)
}

// Close stops the device and releases the backend context. Must run on the
// goroutine that created the Capture.
func (c *Capture) Close() {
	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
	}
	slog.Info("capture closed", "device", c.DeviceName)
}
