// Package capture watches the recordings directory and feeds finished
// capture files into the ledger.
package capture

import (
	"os"

	"github.com/youpy/go-wav"

	apperrors "github.com/kimhsiao/scriberr-companion/internal/errors"
)

// ProbeDuration reads a WAV header and returns the audio length in
// seconds. Non-WAV or truncated files are rejected.
func ProbeDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrValidation, "cannot open audio file", err)
	}
	defer f.Close()

	d, err := wav.NewReader(f).Duration()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrValidation, "cannot read WAV header", err)
	}
	return d.Seconds(), nil
}
