package capture

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"github.com/fede/whisperaloud/internal/corerr"
	"github.com/gen2brain/malgo"
	resampler "github.com/tphakala/go-audio-resampler"
)

// MalgoSource captures audio via miniaudio (through the malgo bindings),
// the Go analogue of the reference implementation's sounddevice/PortAudio
// binding. Captured frames are downmixed to mono and resampled to the
// caller's requested sample rate at the capture boundary.
type MalgoSource struct {
	mu sync.Mutex
}

// NewMalgoSource builds a MalgoSource.
func NewMalgoSource() *MalgoSource {
	return &MalgoSource{}
}

type malgoStream struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	once   sync.Once
}

func (s *MalgoSource) Open(ctx context.Context, deviceID, sampleRate, channels int, onFrame func(Frame)) (Stream, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, corerr.Wrap(corerr.CodeAudioDevice, "init audio context", err)
	}

	// Many consumer audio interfaces run their hardware clock at 48kHz
	// regardless of what an application asks for; request the hardware's
	// native rate explicitly and resample down to the caller's target in
	// software rather than trust the backend to do it silently.
	const nativeRate = 48000

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(nativeRate)
	deviceConfig.Alsa.NoMMap = 1

	infos, infoErr := malgoCtx.Devices(malgo.Capture)
	if infoErr == nil && len(infos) == 0 {
		malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, corerr.New(corerr.CodeNoMicrophone, "no capture devices available")
	}
	if deviceID >= 0 && infoErr == nil && deviceID < len(infos) {
		deviceConfig.Capture.DeviceID = infos[deviceID].ID.Pointer()
	}

	res := resampler.New(nativeRate, sampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			samples := bytesToFloat32(input, int(frameCount)*channels)
			mono := downmix(samples, channels)
			resampled := res.Process(mono)
			select {
			case <-ctx.Done():
				return
			default:
				onFrame(Frame{Samples: resampled, SampleRate: sampleRate})
			}
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, corerr.Wrap(classifyCaptureError(err), "init capture device", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, corerr.Wrap(classifyCaptureError(err), "start capture device", err)
	}

	return &malgoStream{ctx: malgoCtx, device: device}, nil
}

func (s *malgoStream) Close() error {
	var err error
	s.once.Do(func() {
		s.device.Uninit()
		if uErr := s.ctx.Uninit(); uErr != nil {
			err = uErr
		}
		s.ctx.Free()
	})
	return err
}

// classifyCaptureError maps a miniaudio/malgo failure to the daemon's
// device error taxonomy. malgo surfaces C-level error codes as opaque Go
// errors with no exported sentinel values, so this falls back to matching
// the wording miniaudio itself uses.
func classifyCaptureError(err error) corerr.Code {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "busy") || strings.Contains(msg, "in use") || strings.Contains(msg, "already"):
		return corerr.CodeDeviceBusy
	case strings.Contains(msg, "format") || strings.Contains(msg, "unsupported"):
		return corerr.CodeDeviceFormatUnsupported
	case strings.Contains(msg, "no such device") || strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist"):
		return corerr.CodeNoMicrophone
	default:
		return corerr.CodeAudioDevice
	}
}

func bytesToFloat32(b []byte, count int) []float32 {
	out := make([]float32, count)
	for i := 0; i < count && (i+1)*4 <= len(b); i++ {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
