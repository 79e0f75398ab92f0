package mathx

import (
	"fmt"
	"math"
	"testing"
)

func ExampleLogSpace() {
	for _, v := range LogSpace(1, 1000, 4) {
		fmt.Printf("%.0f ", v)
	}
	// Output: 1 10 100 1000
}

func TestLogSpaceEndpoints(t *testing.T) {
	out := LogSpace(150e3, 30e6, 601)
	if out[0] != 150e3 || out[600] != 30e6 {
		t.Errorf("expected endpoints 150e3, 30e6 got %f, %f", out[0], out[600])
	}
}

func TestLogSpaceConstantRatio(t *testing.T) {
	out := LogSpace(150e3, 30e6, 101)
	ratio := out[1] / out[0]
	for i := 1; i < len(out); i++ {
		r := out[i] / out[i-1]
		if math.Abs(r-ratio) > 1e-9 {
			t.Errorf("ratio at %d is %g, expected %g", i, r, ratio)
		}
	}
}

func TestLogSpaceDegenerate(t *testing.T) {
	if out := LogSpace(1, 10, 0); out != nil {
		t.Errorf("expected nil for n=0, got %v", out)
	}
	if out := LogSpace(5, 10, 1); len(out) != 1 || out[0] != 5 {
		t.Errorf("expected [5] for n=1, got %v", out)
	}
}
