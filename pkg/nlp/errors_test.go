package nlp_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/recall/pkg/nlp"
)

func TestProviderErrorMatchesSentinels(t *testing.T) {
	tests := []struct {
		kind      nlp.Kind
		sentinel  error
		temporary bool
	}{
		{nlp.KindRateLimited, nlp.ErrRateLimit, true},
		{nlp.KindRefused, nlp.ErrRefusal, false},
		{nlp.KindEmpty, nlp.ErrEmptyResponse, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := fmt.Errorf("extract: %w", &nlp.ProviderError{Kind: tt.kind, Op: "complete"})
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Contains(t, err.Error(), tt.sentinel.Error())

			var pe *nlp.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.temporary, pe.Temporary())
		})
	}
}

func TestProviderErrorAPIStatus(t *testing.T) {
	cause := errors.New("upstream")
	err := &nlp.ProviderError{Op: "complete", StatusCode: 502, Message: "bad gateway", Err: cause}

	assert.Equal(t, "complete: bad gateway (status 502)", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, nlp.ErrRateLimit)
	assert.True(t, err.Temporary())
	assert.False(t, (&nlp.ProviderError{StatusCode: 400}).Temporary())
}

func TestClassify(t *testing.T) {
	limited := nlp.Classify("complete", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"})
	assert.ErrorIs(t, limited, nlp.ErrRateLimit)

	denied := nlp.Classify("embed", &openai.APIError{HTTPStatusCode: 401, Message: "bad key"})
	var pe *nlp.ProviderError
	require.ErrorAs(t, denied, &pe)
	assert.Equal(t, nlp.KindAPI, pe.Kind)
	assert.Equal(t, 401, pe.HTTPStatusCode())
	assert.False(t, pe.Temporary())

	plain := nlp.Classify("complete", errors.New("dial tcp: refused"))
	assert.False(t, errors.As(plain, &pe))
	assert.Contains(t, plain.Error(), "complete failed")
}
