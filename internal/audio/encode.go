package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os/exec"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
)

// Encoder turns a waveform into container bytes at a fixed sample rate.
type Encoder interface {
	Encode(ctx context.Context, samples []float32, sampleRate int) ([]byte, error)
	ContentType() string
	Extension() string
}

// NewEncoder selects an encoder for the configured output format. WAV is
// produced natively; MP3 delegates to an external encoder command fed 16-bit
// little-endian PCM on stdin (the original stack shelled out the same way
// through pydub).
func NewEncoder(format, bitrate, command string) (Encoder, error) {
	switch strings.ToLower(format) {
	case "wav":
		return wavEncoder{}, nil
	case "mp3":
		return newExecEncoder(command, bitrate)
	default:
		return nil, fmt.Errorf("unsupported audio format %q", format)
	}
}

type wavEncoder struct{}

func (wavEncoder) ContentType() string { return "audio/wav" }
func (wavEncoder) Extension() string   { return "wav" }

func (wavEncoder) Encode(_ context.Context, samples []float32, sampleRate int) ([]byte, error) {
	var buf writeSeekerBuffer
	enc := wav.NewEncoder(&buf, sampleRate, 16, 1, 1)

	intBuf := &goaudio.IntBuffer{
		Data:           make([]int, len(samples)),
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: 1},
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		intBuf.Data[i] = int(clamp(s) * 32767)
	}

	if err := enc.Write(intBuf); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return buf.Bytes(), nil
}

// execEncoder pipes raw PCM through an external encoder such as ffmpeg or
// lame. {rate} and {bitrate} placeholders in the command are substituted at
// encode time.
type execEncoder struct {
	command string
	bitrate string
}

func newExecEncoder(command, bitrate string) (Encoder, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("mp3 output requires an encoder command")
	}
	return &execEncoder{command: command, bitrate: bitrate}, nil
}

func (e *execEncoder) ContentType() string { return "audio/mpeg" }
func (e *execEncoder) Extension() string   { return "mp3" }

func (e *execEncoder) Encode(ctx context.Context, samples []float32, sampleRate int) ([]byte, error) {
	command := strings.NewReplacer(
		"{rate}", fmt.Sprintf("%d", sampleRate),
		"{bitrate}", e.bitrate,
	).Replace(e.command)

	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse encoder command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("encoder command empty")
	}

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(clamp(s)*32767)))
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = bytes.NewReader(pcm)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("encoder process: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("encoder process: %w", err)
	}
	return stdout.Bytes(), nil
}

func clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// writeSeekerBuffer satisfies the wav encoder's io.WriteSeeker against an
// in-memory buffer; the encoder only seeks backwards to patch header sizes.
type writeSeekerBuffer struct {
	data []byte
	pos  int
}

func (b *writeSeekerBuffer) Write(p []byte) (int, error) {
	if grow := b.pos + len(p) - len(b.data); grow > 0 {
		b.data = append(b.data, make([]byte, grow)...)
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *writeSeekerBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case 0:
		next = int(offset)
	case 1:
		next = b.pos + int(offset)
	case 2:
		next = len(b.data) + int(offset)
	default:
		return 0, fmt.Errorf("unsupported whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position %d", next)
	}
	b.pos = next
	return int64(next), nil
}

func (b *writeSeekerBuffer) Bytes() []byte { return b.data }
