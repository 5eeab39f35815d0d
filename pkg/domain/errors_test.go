package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtocolErrorMessage(t *testing.T) {
	err := &ProtocolError{Method: "DOM.getBoxModel", Code: -32000, Message: "Could not compute box model."}
	assert.Equal(t, "CDP error in DOM.getBoxModel: Could not compute box model. (code -32000)", err.Error())
}

func TestClarify(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"box model", &ProtocolError{Method: "DOM.getBoxModel", Code: -32000, Message: "Could not compute box model."}, ErrElementNotVisible},
		{"no node", &ProtocolError{Method: "DOM.describeNode", Code: -32000, Message: "No node with given id found"}, ErrElementNotFound},
		{"could not find", fmt.Errorf("wrapped: %w", &ProtocolError{Method: "DOM.focus", Code: -32000, Message: "Could not find node with given id"}), ErrElementNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Clarify(tc.in, "#btn")
			require.ErrorIs(t, got, tc.want)
			var ee *ElementError
			require.ErrorAs(t, got, &ee)
			assert.Equal(t, "#btn", ee.Selector)
		})
	}
}

func TestClarifyPassesThroughUnknown(t *testing.T) {
	pe := &ProtocolError{Method: "Page.navigate", Code: -32602, Message: "Invalid parameters"}
	assert.Same(t, pe, Clarify(pe, "a").(*ProtocolError))

	plain := errors.New("boom")
	assert.Equal(t, plain, Clarify(plain, "a"))
	assert.Nil(t, Clarify(nil, "a"))

	closed := TransportClosed(errors.New("eof"))
	assert.ErrorIs(t, Clarify(closed, "a"), ErrTransportClosed)
}

func TestRetryExhaustedKeepsLastError(t *testing.T) {
	last := NotFound("#x")
	err := error(&RetryExhaustedError{Attempts: 2, LastErr: last})
	require.ErrorIs(t, err, ErrRetryExhausted)
	assert.NotErrorIs(t, err, ErrElementNotFound)

	var re *RetryExhaustedError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 2, re.Attempts)
	assert.Equal(t, last, re.LastErr)
}

func TestClassifiers(t *testing.T) {
	assert.True(t, IsMissing(NotVisible("a")))
	assert.True(t, IsMissing(NotFound("a")))
	assert.False(t, IsMissing(NotInteractive("a", "disabled")))
	assert.False(t, IsMissing(&ProtocolError{Message: "x"}))
	assert.True(t, IsTerminal(FrameNotFound("s1")))
	assert.True(t, IsTerminal(TransportClosed(nil)))
	assert.False(t, IsTerminal(&TimeoutError{Op: "x"}))
}

func TestMatchStrategy(t *testing.T) {
	assert.True(t, MatchExact.Matches("  Sign In ", "sign in"))
	assert.False(t, MatchExact.Matches("Sign In now", "sign in"))
	assert.True(t, MatchContains.Matches("Please Sign In now", "SIGN IN"))
	assert.True(t, MatchStartsWith.Matches("Submit form", "submit"))
	assert.True(t, MatchEndsWith.Matches("Submit form", "FORM"))
	assert.Equal(t, "startsWith", MatchStartsWith.String())
}

func TestRectCenter(t *testing.T) {
	r := Rect{X: 10, Y: 20, Width: 100, Height: 50}
	assert.Equal(t, Point{X: 60, Y: 45}, r.Center())
	assert.True(t, r.Contains(Point{X: 10, Y: 20}))
	assert.False(t, r.Contains(Point{X: 9, Y: 20}))
	assert.True(t, Rect{Width: 0, Height: 3}.Empty())
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "sign in now", NormalizeText("  Sign \n\t In   NOW "))
	assert.True(t, MatchExact.Matches("Sign\n  In", "sign in"))
}
