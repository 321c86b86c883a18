// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// RecordingName returns a timestamped WAV path inside dir.
func RecordingName(dir string, now time.Time) string {
	return filepath.Join(dir, "timbre-"+now.UTC().Format("20060102-150405")+".wav")
}

// StartRecording writes the raw interleaved input to filename at the given
// bit depth (16, 24 or 32). Missing parent directories are created.
func (e *Engine) StartRecording(filename string, bitDepth int) error {
	if atomic.LoadInt32(&e.isRecording) == 1 {
		return fmt.Errorf("already recording")
	}
	switch bitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("unsupported recording bit depth %d", bitDepth)
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating recording directory: %w", err)
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	e.outputFile = file

	e.wavEncoder = wav.NewEncoder(file, int(e.config.SampleRate),
		bitDepth, e.config.InputChannels, 1)
	e.depthShift = 32 - bitDepth

	e.sampleBuf = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: e.config.InputChannels,
			SampleRate:  int(e.config.SampleRate),
		},
		Data:           make([]int, e.config.FramesPerBuffer*e.config.InputChannels),
		SourceBitDepth: bitDepth,
	}

	atomic.StoreInt32(&e.isRecording, 1)
	engineLog.Infof("Recording to %s (%d-bit)", filename, bitDepth)

	return nil
}

// record converts buffer to the file's bit depth and appends it.
func (e *Engine) record(buffer []int32) {
	data := e.sampleBuf.Data[:len(buffer)]
	for i, sample := range buffer {
		data[i] = int(sample >> e.depthShift)
	}
	e.sampleBuf.Data = data

	if err := e.wavEncoder.Write(e.sampleBuf); err != nil {
		if e.writeErrors.Add(1) == 1 {
			engineLog.Errorf("Error writing to WAV file: %v", err)
		}
	}
}

func (e *Engine) StopRecording() error {
	if atomic.LoadInt32(&e.isRecording) == 0 {
		return nil
	}

	atomic.StoreInt32(&e.isRecording, 0)

	if e.wavEncoder != nil {
		if err := e.wavEncoder.Close(); err != nil {
			return err
		}
		e.wavEncoder = nil
	}

	if e.outputFile != nil {
		name := e.outputFile.Name()
		if err := e.outputFile.Close(); err != nil {
			return err
		}
		e.outputFile = nil
		engineLog.Infof("Recording saved to %s", name)
	}

	return nil
}

func (e *Engine) Close() error {
	if atomic.LoadInt32(&e.isRecording) == 1 {
		if err := e.StopRecording(); err != nil {
			return err
		}
	}

	if err := e.StopInputStream(); err != nil {
		return err
	}

	return nil
}
