package ringbuf_test

import (
	"bytes"
	"testing"

	"i4.energy/across/shortrange/internal/ringbuf"
)

func TestBuffer(t *testing.T) {
	t.Run("Write truncates at capacity", func(t *testing.T) {
		b := ringbuf.New(4)
		n, _ := b.Write([]byte("abcdef"))
		if n != 4 {
			t.Errorf("expected 4 bytes accepted, got %d", n)
		}
		if b.Free() != 0 {
			t.Errorf("expected no free space, got %d", b.Free())
		}
	})

	t.Run("Full buffer is not an error", func(t *testing.T) {
		b := ringbuf.New(2)
		b.Write([]byte("ab"))
		n, err := b.Write([]byte("c"))
		if n != 0 || err != nil {
			t.Errorf("expected 0 bytes and no error, got %d, %v", n, err)
		}
		if n, err := b.Read(make([]byte, 4)); n != 2 || err != nil {
			t.Errorf("expected 2 bytes and no error, got %d, %v", n, err)
		}
		if n, err := b.Read(make([]byte, 4)); n != 0 || err != nil {
			t.Errorf("expected an empty read without error, got %d, %v", n, err)
		}
	})

	t.Run("Read on empty returns zero", func(t *testing.T) {
		b := ringbuf.New(4)
		buf := make([]byte, 8)
		if n, _ := b.Read(buf); n != 0 {
			t.Errorf("expected 0 bytes, got %d", n)
		}
	})

	t.Run("Read respects destination length", func(t *testing.T) {
		b := ringbuf.New(8)
		b.Write([]byte("hello"))
		buf := make([]byte, 2)
		n, _ := b.Read(buf)
		if n != 2 || string(buf) != "he" {
			t.Errorf("expected \"he\", got %q", buf[:n])
		}
		if b.Len() != 3 {
			t.Errorf("expected 3 bytes left, got %d", b.Len())
		}
	})

	t.Run("Wraps around the end", func(t *testing.T) {
		b := ringbuf.New(5)
		b.Write([]byte("abc"))
		b.Read(make([]byte, 2))
		b.Write([]byte("defg"))

		out := make([]byte, 10)
		n, _ := b.Read(out)
		if !bytes.Equal(out[:n], []byte("cdefg")) {
			t.Errorf("expected \"cdefg\", got %q", out[:n])
		}
	})

	t.Run("Reset empties the buffer", func(t *testing.T) {
		b := ringbuf.New(3)
		b.Write([]byte("xyz"))
		b.Reset()
		if b.Len() != 0 || b.Free() != 3 {
			t.Errorf("expected empty buffer after Reset, got len=%d free=%d", b.Len(), b.Free())
		}
	})
}
