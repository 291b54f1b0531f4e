// Package media turns encoded video buffers into timed track samples.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
)

// SampleWriter is the outbound video track surface.
// *webrtc.TrackLocalStaticSample satisfies it.
type SampleWriter interface {
	WriteSample(media.Sample) error
}

// WriteH264 splits buf into Annex-B delimited access units and forwards each
// as one sample with the supplied duration, in order, returning the number
// of samples written. The buffer must hold complete units; nothing is
// carried over between calls.
//
// Clean exhaustion of the buffer is success. A track write failure aborts
// the remaining units.
func WriteH264(w SampleWriter, buf []byte, duration time.Duration) (int, error) {
	r, err := h264reader.NewReader(bytes.NewReader(buf))
	if err != nil {
		return 0, fmt.Errorf("open h264 buffer: %w", err)
	}

	written := 0
	for {
		nal, err := r.NextNAL()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("read access unit: %w", err)
		}

		if err := w.WriteSample(media.Sample{Data: nal.Data, Duration: duration}); err != nil {
			return written, fmt.Errorf("write sample: %w", err)
		}
		written++
	}
}
