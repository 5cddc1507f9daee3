package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	transportmock "github.com/MrWong99/parley/pkg/transport/mock"
)

func TestNewFailoverDialer_Validation(t *testing.T) {
	if _, err := NewFailoverDialer(BreakerConfig{}); err == nil {
		t.Error("expected error for zero endpoints")
	}
	if _, err := NewFailoverDialer(BreakerConfig{}, Endpoint{Name: "primary"}); err == nil {
		t.Error("expected error for endpoint without dialer")
	}
}

func TestFailoverDialer_PrefersPrimary(t *testing.T) {
	primary, secondary := &transportmock.Dialer{}, &transportmock.Dialer{}
	want := transportmock.New()
	primary.Push(want)

	d, err := NewFailoverDialer(BreakerConfig{},
		Endpoint{Name: "primary", Dialer: primary},
		Endpoint{Name: "secondary", Dialer: secondary},
	)
	if err != nil {
		t.Fatalf("NewFailoverDialer: %v", err)
	}

	got, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if got != want {
		t.Error("Dial did not return the primary connection")
	}
	if secondary.Calls() != 0 {
		t.Errorf("secondary dialled %d times, want 0", secondary.Calls())
	}
}

func TestFailoverDialer_FallsBack(t *testing.T) {
	primary := &transportmock.Dialer{Err: errTest}
	secondary := &transportmock.Dialer{}
	want := transportmock.New()
	secondary.Push(want)

	d, _ := NewFailoverDialer(BreakerConfig{},
		Endpoint{Name: "primary", Dialer: primary},
		Endpoint{Name: "secondary", Dialer: secondary},
	)
	got, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if got != want {
		t.Error("Dial did not return the fallback connection")
	}
}

func TestFailoverDialer_AllFail(t *testing.T) {
	d, _ := NewFailoverDialer(BreakerConfig{},
		Endpoint{Name: "primary", Dialer: &transportmock.Dialer{Err: errTest}},
		Endpoint{Name: "secondary", Dialer: &transportmock.Dialer{Err: errTest}},
	)
	_, err := d.Dial(context.Background())
	if !errors.Is(err, ErrAllEndpointsFailed) {
		t.Fatalf("err = %v, want ErrAllEndpointsFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want it to wrap the dial errors", err)
	}
}

func TestFailoverDialer_SkipsOpenEndpoint(t *testing.T) {
	clock := newFakeClock()
	primary := &transportmock.Dialer{Err: errTest}
	secondary := &transportmock.Dialer{}
	for range 3 {
		secondary.Push(transportmock.New())
	}

	d, _ := NewFailoverDialer(BreakerConfig{MaxFailures: 1, Cooldown: time.Minute, Now: clock.Now},
		Endpoint{Name: "primary", Dialer: primary},
		Endpoint{Name: "secondary", Dialer: secondary},
	)

	if _, err := d.Dial(context.Background()); err != nil {
		t.Fatalf("first Dial: %v", err)
	}
	if got := d.States(); got[0] != StateOpen || got[1] != StateClosed {
		t.Fatalf("States() = %v, want [open closed]", got)
	}

	if _, err := d.Dial(context.Background()); err != nil {
		t.Fatalf("second Dial: %v", err)
	}
	if primary.Calls() != 1 {
		t.Errorf("primary dialled %d times while open, want 1", primary.Calls())
	}

	// After the cooldown the primary gets a probe again.
	clock.Advance(time.Minute)
	if _, err := d.Dial(context.Background()); err != nil {
		t.Fatalf("third Dial: %v", err)
	}
	if primary.Calls() != 2 {
		t.Errorf("primary dialled %d times after cooldown, want 2", primary.Calls())
	}
}

func TestFailoverDialer_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	secondary := &transportmock.Dialer{}
	d, _ := NewFailoverDialer(BreakerConfig{},
		Endpoint{Name: "primary", Dialer: &transportmock.Dialer{Err: context.Canceled}},
		Endpoint{Name: "secondary", Dialer: secondary},
	)
	if _, err := d.Dial(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if secondary.Calls() != 0 {
		t.Error("secondary dialled after cancellation")
	}
}
