package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0remac/vo-sync/internal/clock"
)

func TestIssueAndOpenLocal(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	reg := New(time.Hour, clk)

	tok, expiresAt := reg.Issue(LocalTarget("/media/a.mp4"))
	assert.NotEmpty(t, tok)
	assert.Equal(t, clk.Now().Add(time.Hour), expiresAt)

	path, err := reg.OpenLocal(tok)
	require.NoError(t, err)
	assert.Equal(t, "/media/a.mp4", path)

	_, _, err = reg.OpenRemote(tok)
	assert.Error(t, err)
}

func TestIssueAndOpenRemote(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	reg := New(time.Hour, clk)

	tok, _ := reg.Issue(RemoteTarget("https://example.com/v.mp4", Redirect))

	url, strategy, err := reg.OpenRemote(tok)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/v.mp4", url)
	assert.Equal(t, Redirect, strategy)

	_, err = reg.OpenLocal(tok)
	assert.Error(t, err)
}

func TestTokensAreUnique(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	reg := New(time.Hour, clk)

	a, _ := reg.Issue(LocalTarget("/a"))
	b, _ := reg.Issue(LocalTarget("/b"))
	assert.NotEqual(t, a, b)
}

func TestExpiryOnLookup(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	reg := New(time.Hour, clk)

	tok, _ := reg.Issue(LocalTarget("/a"))
	clk.Advance(time.Hour + time.Second)

	_, err := reg.OpenLocal(tok)
	assert.Error(t, err)
	assert.Equal(t, 0, reg.Count())
}

func TestSweepDropsExpired(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	reg := New(time.Hour, clk)

	reg.Issue(LocalTarget("/a"))
	clk.Advance(time.Hour + time.Second)
	reg.Issue(LocalTarget("/b"))

	reg.Sweep()
	assert.Equal(t, 1, reg.Count())
}
