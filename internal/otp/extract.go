package otp

import (
	"fmt"
	"strings"

	"github.com/nhle/registry-submit/internal/model"
)

// Extract returns the passcode carried in an OTP message subject: the text
// after the last colon with surrounding whitespace removed. Subjects
// without a colon, or with nothing after it, fail with model.ErrExtraction.
func Extract(subject string) (string, error) {
	i := strings.LastIndex(subject, ":")
	if i < 0 {
		return "", model.MessageLocal("otp.extract", fmt.Errorf("%w: %q", model.ErrExtraction, subject))
	}

	code := strings.TrimSpace(subject[i+1:])
	if code == "" {
		return "", model.MessageLocal("otp.extract", fmt.Errorf("%w: %q", model.ErrExtraction, subject))
	}
	return code, nil
}
