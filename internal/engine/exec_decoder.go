package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/chorus-tts/chorus/internal/codec"
)

// execDecoder shells out to a local codec decoder process per call, feeding
// the three code levels as JSON on stdin and reading little-endian float32
// PCM back as base64. The mutex keeps one in-flight decode per instance.
type execDecoder struct {
	cmd        []string
	sampleRate int
	mu         sync.Mutex
}

type execDecodeRequest struct {
	Levels     [3][]int `json:"levels"`
	SampleRate int      `json:"sample_rate"`
}

type execDecodeResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Error     string `json:"error,omitempty"`
}

func NewExecDecoder(command string, sampleRate int) (Decoder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse decode command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("decode command empty")
	}
	return &execDecoder{cmd: args, sampleRate: sampleRate}, nil
}

func (d *execDecoder) Decode(ctx context.Context, levels codec.Levels) ([]float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	payload, err := json.Marshal(execDecodeRequest{
		Levels:     [3][]int{levels.L1, levels.L2, levels.L3},
		SampleRate: d.sampleRate,
	})
	if err != nil {
		return nil, err
	}

	base := d.cmd[0]
	args := append([]string{}, d.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("decode process: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("decode process: %w", err)
	}

	var resp execDecodeResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode process output: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("decode process error: %s", resp.Error)
	}

	pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
	if err != nil {
		return nil, fmt.Errorf("decode pcm payload: %w", err)
	}
	return pcmToSamples(pcm)
}

func (d *execDecoder) Ready() bool { return len(d.cmd) > 0 }

func pcmToSamples(pcm []byte) ([]float32, error) {
	if len(pcm)%4 != 0 {
		return nil, fmt.Errorf("pcm payload not float32-aligned: %d bytes", len(pcm))
	}
	samples := make([]float32, len(pcm)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(pcm[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples, nil
}
