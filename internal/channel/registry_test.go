package channel_test

import (
	"context"
	"testing"

	"github.com/memohai/crosschat/internal/channel"
)

const testChannelType = channel.ChannelType("test")

type plainAdapter struct{}

func (a *plainAdapter) Type() channel.ChannelType { return testChannelType }

type receiverAdapter struct{ plainAdapter }

func (a *receiverAdapter) Connect(ctx context.Context, handler channel.InboundHandler) (channel.Connection, error) {
	return channel.NewConnection(testChannelType, nil), nil
}

func TestRegistryRegisterRejectsDuplicates(t *testing.T) {
	t.Parallel()
	reg := channel.NewRegistry()
	if err := reg.Register(&plainAdapter{}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.Register(&plainAdapter{}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := reg.Register(nil); err == nil {
		t.Fatal("expected nil adapter to fail")
	}
}

func TestRegistryOptionalInterfaces(t *testing.T) {
	t.Parallel()
	reg := channel.NewRegistry()
	reg.MustRegister(&receiverAdapter{})

	if _, ok := reg.Receiver(testChannelType); !ok {
		t.Fatal("Receiver should return receiver for supporting adapter")
	}
	if _, ok := reg.Receiver(channel.ChannelType("unknown")); ok {
		t.Fatal("unknown channel type must not resolve")
	}

	plain := channel.NewRegistry()
	plain.MustRegister(&plainAdapter{})
	if r, ok := plain.Receiver(testChannelType); ok || r != nil {
		t.Fatalf("Receiver(plain) = (%v, %v), want (nil, false)", r, ok)
	}
}

func TestRegistryTypesSorted(t *testing.T) {
	t.Parallel()
	reg := channel.NewRegistry()
	reg.MustRegister(&plainAdapter{})
	reg.MustRegister(&namedAdapter{name: "alpha"})
	got := reg.Types()
	if len(got) != 2 || got[0] != "alpha" || got[1] != testChannelType {
		t.Fatalf("unexpected types: %v", got)
	}
}

type namedAdapter struct{ name string }

func (a *namedAdapter) Type() channel.ChannelType { return channel.ChannelType(a.name) }
