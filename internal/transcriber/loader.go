package transcriber

import (
	"context"
	"fmt"
	"math"
	"strings"
)

func expf(x float64) float64 {
	return math.Exp(x)
}

// cudaLibraryIndicators are substrings that, found in a failed load's
// error text, mean the failure is a missing/broken CUDA runtime rather
// than a genuine model problem — worth a CPU fallback instead of
// surfacing the error directly.
var cudaLibraryIndicators = []string{
	"libcudnn",
	"cudnn",
	"cublas",
	"libcublas",
	"cuda",
	"nvrtc",
	"unable to load",
	"cannot load symbol",
}

func isCUDALibraryError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, indicator := range cudaLibraryIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// resolveDevice attempts to run probe against each candidate device in
// order, returning the first device that succeeds. When requested is
// "cuda" or "auto" and the cuda attempt fails with a CUDA-library error,
// it falls back to "cpu"; any other failure propagates immediately,
// mirroring _try_load_model / load_model's fallback-only-on-CUDA-error
// behavior.
func resolveDevice(ctx context.Context, requested string, probe func(ctx context.Context, device string) error) (string, error) {
	switch requested {
	case "cpu":
		if err := probe(ctx, "cpu"); err != nil {
			return "", fmt.Errorf("load model on cpu: %w", err)
		}
		return "cpu", nil
	case "cuda", "auto":
		err := probe(ctx, "cuda")
		if err == nil {
			return "cuda", nil
		}
		if !isCUDALibraryError(err) {
			return "", fmt.Errorf("load model on cuda: %w", err)
		}
		if cpuErr := probe(ctx, "cpu"); cpuErr != nil {
			return "", fmt.Errorf("failed to load model on both cuda and cpu: cuda=%v cpu=%w", err, cpuErr)
		}
		return "cpu", nil
	default:
		return "", fmt.Errorf("unknown device %q", requested)
	}
}
