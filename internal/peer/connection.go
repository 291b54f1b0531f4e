package peer

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/resonious/eyecam-net/internal/media"
	"github.com/resonious/eyecam-net/internal/metrics"
)

// Connection is an established session with the viewer. It owns the
// outbound video track; the control channel and state callbacks feed the
// fatal channel behind Done.
type Connection struct {
	pc      *webrtc.PeerConnection
	track   *webrtc.TrackLocalStaticSample
	metrics *metrics.Metrics
	fatal   chan error
}

// WriteVideo splits buf into Annex-B access units and sends each as one
// sample with the given duration.
func (c *Connection) WriteVideo(buf []byte, duration time.Duration) error {
	n, err := media.WriteH264(c.track, buf, duration)
	c.metrics.Add(metrics.VideoSamplesWritten, uint64(n))
	return err
}

// Done yields the first fatal event on the connection: the viewer closing
// the control channel, or the transport disconnecting or failing. The
// channel never closes and delivers at most one error.
func (c *Connection) Done() <-chan error {
	return c.fatal
}

func (c *Connection) Close() error {
	return c.pc.Close()
}

// fail records the first fatal event. Later events are dropped; the first
// one is the cause worth reporting.
func (c *Connection) fail(err error) {
	select {
	case c.fatal <- err:
	default:
	}
}
