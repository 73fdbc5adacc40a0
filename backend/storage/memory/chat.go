package memory

import "github.com/adwski/webrtc-meshrelay/backend/model"

// chatRing keeps the last cap chat messages of a room.
type chatRing struct {
	buf   []model.ChatMessage
	start int
	n     int
}

func newChatRing(capacity int) *chatRing {
	return &chatRing{buf: make([]model.ChatMessage, capacity)}
}

func (r *chatRing) push(msg model.ChatMessage) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = msg
		r.n++
		return
	}
	r.buf[r.start] = msg
	r.start = (r.start + 1) % len(r.buf)
}

// list returns messages oldest first.
func (r *chatRing) list() []model.ChatMessage {
	if r == nil || r.n == 0 {
		return nil
	}
	out := make([]model.ChatMessage, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *chatRing) len() int {
	if r == nil {
		return 0
	}
	return r.n
}
