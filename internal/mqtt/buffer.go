package mqtt

import "log"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a fixed-capacity FIFO holding telemetry while the broker is
// unreachable. When full, the oldest record is overwritten.
// Not safe for concurrent use; the caller synchronizes.
type ringBuffer struct {
	buf     []bufferedMsg
	head    int // oldest message
	count   int
	dropped int // overwritten since the last successful drain
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{buf: make([]bufferedMsg, capacity)}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	tail := (r.head + r.count) % len(r.buf)
	r.buf[tail] = msg
	if r.count < len(r.buf) {
		r.count++
		return
	}
	if r.dropped == 0 {
		log.Printf("mqtt: buffer full (%d messages), dropping oldest", len(r.buf))
	}
	r.dropped++
	r.head = (r.head + 1) % len(r.buf)
}

// drain sends buffered messages oldest first. It stops at the first failure
// and keeps that message and everything after it for the next attempt.
func (r *ringBuffer) drain(send func(bufferedMsg) error) (int, error) {
	sent := 0
	for r.count > 0 {
		if err := send(r.buf[r.head]); err != nil {
			return sent, err
		}
		r.buf[r.head] = bufferedMsg{}
		r.head = (r.head + 1) % len(r.buf)
		r.count--
		sent++
	}
	if r.dropped > 0 {
		log.Printf("mqtt: %d buffered messages were dropped while disconnected", r.dropped)
		r.dropped = 0
	}
	r.head = 0
	return sent, nil
}

func (r *ringBuffer) len() int {
	return r.count
}
