package notify

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type captureNotifier struct {
	messages []string
}

func (c *captureNotifier) Notify(message, severity string) {
	c.messages = append(c.messages, severity+": "+message)
}

func TestFuncAdapter(t *testing.T) {
	var got string
	f := Func(func(message, severity string) { got = severity + "/" + message })
	f.Notify("保存しました", SeveritySuccess)
	assert.Equal(t, "success/保存しました", got)
}

func TestMultiFansOut(t *testing.T) {
	a := &captureNotifier{}
	b := &captureNotifier{}
	Multi{a, b}.Notify("m", SeverityInfo)
	assert.Equal(t, []string{"info: m"}, a.messages)
	assert.Equal(t, []string{"info: m"}, b.messages)
}

func TestLimitedDropsBeyondBurst(t *testing.T) {
	logger := zerolog.New(io.Discard)
	inner := &captureNotifier{}
	limited := NewLimited(inner, 0.001, 2, &logger)

	for i := 0; i < 5; i++ {
		limited.Notify("m", SeverityInfo)
	}
	// Burst admits two, the refill rate is far too slow for the rest.
	assert.Len(t, inner.messages, 2)
}
