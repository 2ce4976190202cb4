package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type providerTemporary struct{}

func (providerTemporary) Error() string   { return "smtp 421" }
func (providerTemporary) Temporary() bool { return true }
func (providerTemporary) Permanent() bool { return false }

type providerPermanent struct{}

func (providerPermanent) Error() string   { return "smtp 535" }
func (providerPermanent) Permanent() bool { return true }

type exhausted struct{ cause error }

func (e exhausted) Error() string   { return "exhausted: " + e.cause.Error() }
func (e exhausted) Unwrap() error   { return e.cause }
func (e exhausted) Exhausted() bool { return true }

type netTimeout struct{}

func (netTimeout) Error() string { return "i/o timeout" }
func (netTimeout) Timeout() bool { return true }

func TestClassify(t *testing.T) {
	base := errors.New("boom")

	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", base, KindUnknown},
		{"decode", Decode(base), KindDecode},
		{"transient", Transient(base), KindTransient},
		{"permanent", Permanent(base), KindPermanent},
		{"conflict", Conflict(base), KindConflict},
		{"wrapped transient", fmt.Errorf("load booking: %w", Transient(base)), KindTransient},
		{"provider temporary", providerTemporary{}, KindTransient},
		{"provider permanent", providerPermanent{}, KindPermanent},
		{"exhausted over transient", exhausted{cause: Transient(base)}, KindExhausted},
		{"deadline", fmt.Errorf("op: %w", context.DeadlineExceeded), KindTransient},
		{"cancelled", context.Canceled, KindCancelled},
		{"net timeout", netTimeout{}, KindTransient},
		{"decode beats permanent", Permanent(Decode(base)), KindDecode},
		{"joined permanent and transient", errors.Join(Transient(base), Permanent(base)), KindPermanent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestFilters(t *testing.T) {
	base := errors.New("x")

	assert.True(t, TransientOnly(Transient(base)))
	assert.False(t, TransientOnly(Conflict(base)))
	assert.False(t, TransientOnly(base))

	assert.True(t, TransientOrConflict(Transient(base)))
	assert.True(t, TransientOrConflict(Conflict(base)))
	assert.False(t, TransientOrConflict(Permanent(base)))
	assert.False(t, TransientOrConflict(Decode(base)))
}

func TestErrorUnwraps(t *testing.T) {
	sentinel := errors.New("booking not found")
	err := Permanentf("load 7: %w", sentinel)

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, "permanent: load 7: booking not found", err.Error())
	assert.Nil(t, Transient(nil))
}
