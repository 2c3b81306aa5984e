package assert

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"
)

// timeout is the default time to wait on chans and blocking calls.
const timeout = 30 * time.Second

// ChanWritten returns the value written to chan c or times out.
func ChanWritten[T any](t testing.TB, c chan T) T {
	t.Helper()
	var v T
	select {
	case v = <-c:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for chan read")
	}
	return v
}

// ChanNotWritten asserts that the chan is not written at least until the passed
// timeout value.
func ChanNotWritten[T any](t testing.TB, c chan T, timeout time.Duration) {
	t.Helper()
	select {
	case v := <-c:
		t.Fatalf("channel was written with value %v", v)
	case <-time.After(timeout):
	}
}

// DeepEqual asserts got is reflect.DeepEqual to want.
func DeepEqual[T any](t testing.TB, got, want T) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Unexpected values: got %v, want %v", got, want)
	}
}

// ErrorIs asserts that errors.Is(got, want).
func ErrorIs(t testing.TB, got, want error) {
	t.Helper()
	if !errors.Is(got, want) {
		t.Fatalf("Unexpected error: got %v, want %v", got, want)
	}
}

// NilErr fails the test if err is non-nil.
func NilErr(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Unexpected non-nil error: %v", err)
	}
}

// NonNilErr asserts that err is not nil. It's preferable to use a specific
// error check instead of this one.
func NonNilErr(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("unexpected nil error")
	}
}

// BoolIs asserts the given bool value.
func BoolIs(t testing.TB, got, want bool) {
	t.Helper()
	if got != want {
		t.Fatalf("unexpected bool. got %v, want %v", got, want)
	}
}

// InRange asserts that min <= got <= max.
func InRange[T int | int64 | uint64 | float64](t testing.TB, got, min, max T) {
	t.Helper()
	if got < min || got > max {
		t.Fatalf("value %v out of range [%v, %v]", got, min, max)
	}
}

// DoesNotBlock asserts that calling f() does not block for an inordinate amount
// of time.
func DoesNotBlock(t testing.TB, f func()) {
	t.Helper()
	DoesNotBlockFor(t, timeout, f)
}

// DoesNotBlockFor asserts that f() returns before the passed limit.
func DoesNotBlockFor(t testing.TB, limit time.Duration, f func()) {
	t.Helper()
	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), limit)
	defer cancel()
	go func() {
		f()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatalf("function did not return within %s", limit)
	}
}

// FileExists asserts that a regular file exists at path.
func FileExists(t testing.TB, path string) {
	t.Helper()
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("file %s does not exist: %v", path, err)
	}
	if st.IsDir() {
		t.Fatalf("%s is a dir", path)
	}
}

// FileNotExists asserts that nothing exists at path.
func FileNotExists(t testing.TB, path string) {
	t.Helper()
	_, err := os.Stat(path)
	if err == nil {
		t.Fatalf("file %s exists", path)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("unexpected error stating %s: %v", path, err)
	}
}
