package engine

import (
	"errors"
	"reflect"
	"testing"
)

func TestTensor_CopyRoundTrip(t *testing.T) {
	tensor := NewTensor("x", []int64{1, 4})
	if tensor.ElementCount() != 4 {
		t.Fatalf("ElementCount = %d; want 4", tensor.ElementCount())
	}

	in := []float32{0.5, -1, 1, 0}
	if err := tensor.CopyFromBuffer(in); err != nil {
		t.Fatalf("CopyFromBuffer: %v", err)
	}

	out := make([]float32, 4)
	if err := tensor.CopyToBuffer(out); err != nil {
		t.Fatalf("CopyToBuffer: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("got %v; want %v", out, in)
	}

	in[0] = 9
	if tensor.Data()[0] != 0.5 {
		t.Fatal("CopyFromBuffer must not alias the source")
	}
}

func TestTensor_SizeMismatch(t *testing.T) {
	tensor := NewTensor("x", []int64{1, 512})

	if err := tensor.CopyFromBuffer(make([]float32, 511)); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("CopyFromBuffer err = %v; want ErrSizeMismatch", err)
	}
	if err := tensor.CopyToBuffer(make([]float32, 513)); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("CopyToBuffer err = %v; want ErrSizeMismatch", err)
	}
}

func TestTensor_Reset(t *testing.T) {
	tensor := NewTensor("y", []int64{1, 1})

	if err := tensor.reset([]int64{1, 3}, []float32{1, 2, 3}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !reflect.DeepEqual(tensor.Shape(), []int64{1, 3}) || tensor.ElementCount() != 3 {
		t.Fatalf("after reset: %v count=%d", tensor, tensor.ElementCount())
	}

	if err := tensor.reset([]int64{2}, []float32{1}); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("reset mismatch err = %v", err)
	}
}

func TestWrapTensor_SharesData(t *testing.T) {
	backing := make([]float32, 6)

	tensor, err := WrapTensor("w", []int64{2, 3}, backing)
	if err != nil {
		t.Fatalf("WrapTensor: %v", err)
	}
	tensor.Fill(2)
	if backing[5] != 2 {
		t.Fatal("WrapTensor must share the backing slice")
	}

	if _, err := WrapTensor("w", []int64{2, 2}, backing); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("err = %v; want ErrSizeMismatch", err)
	}
}

func TestTensor_Float32sIsCopy(t *testing.T) {
	tensor := NewTensor("x", []int64{2})
	got := tensor.Float32s()
	got[0] = 1

	if tensor.Data()[0] != 0 {
		t.Fatal("Float32s must return a copy")
	}
}

func TestTensor_String(t *testing.T) {
	if s := NewTensor("scores", []int64{1, 10}).String(); s != "scores[1,10]" {
		t.Fatalf("String = %q", s)
	}
}

func TestRecoverInvoke(t *testing.T) {
	run := func() (err error) {
		defer recoverInvoke(&err)
		panic("boom")
	}

	if err := run(); err == nil {
		t.Fatal("expected panic to be converted to error")
	}
}
