package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"typed", New(KindAuth, "trendyol", "list", errors.New("401")), KindAuth},
		{"wrapped", fmt.Errorf("submit: %w", New(KindTransient, "n11", "submit", nil)), KindTransient},
		{"canceled", fmt.Errorf("x: %w", context.Canceled), KindCancelled},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"credentials", fmt.Errorf("etsy: %w", ErrMissingCredentials), KindUnavailable},
		{"unsupported", fmt.Errorf("delete: %w", ErrUnsupported), KindMalformedRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestErrorMessageAndReason(t *testing.T) {
	err := &Error{Kind: KindMalformedRequest, Marketplace: "hepsiburada", Op: "submit", StatusCode: 400, Code: "E12", Err: errors.New("price is invalid")}
	assert.Equal(t, "hepsiburada: malformed_request (submit) status=400 code=E12: price is invalid", err.Error())
	assert.Equal(t, "E12: price is invalid", Reason(fmt.Errorf("wrap: %w", err)))
	assert.Equal(t, "plain", Reason(errors.New("plain")))
	assert.True(t, IsTransient(Newf(KindTransient, "a", "b", "retry %d", 3)))
	assert.False(t, IsAuth(nil))
}
