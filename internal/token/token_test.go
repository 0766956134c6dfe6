package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTrimsOutput(t *testing.T) {
	t.Parallel()

	c, err := NewCommand("fetch-token --site empire")
	require.NoError(t, err)
	c.run = func(ctx context.Context, name string, args ...string) (string, string, error) {
		assert.Equal(t, "fetch-token", name)
		assert.Equal(t, []string{"--site", "empire"}, args)
		return "  abc.def\n", "", nil
	}

	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc.def", tok)
}

func TestCommandFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	c, err := NewCommand("fetch-token")
	require.NoError(t, err)
	c.run = func(ctx context.Context, name string, args ...string) (string, string, error) {
		return "", "captcha not solved", errors.New("exit status 2")
	}

	_, err = c.Token(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorContains(t, err, "captcha not solved")
}

func TestCommandEmptyOutputIsUnavailable(t *testing.T) {
	t.Parallel()

	c, err := NewCommand("fetch-token")
	require.NoError(t, err)
	c.run = func(ctx context.Context, name string, args ...string) (string, string, error) {
		return "\n", "", nil
	}

	_, err = c.Token(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestNewCommandRejectsBlank(t *testing.T) {
	t.Parallel()

	_, err := NewCommand("   ")
	require.Error(t, err)
}

func TestTimeoutBoundsProvider(t *testing.T) {
	t.Parallel()

	c, err := NewCommand("slow")
	require.NoError(t, err)
	c.run = func(ctx context.Context, name string, args ...string) (string, string, error) {
		<-ctx.Done()
		return "", "", ctx.Err()
	}

	start := time.Now()
	_, err = Timeout(c, 20*time.Millisecond).Token(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStaticHonoursCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Static("tok").Token(ctx)
	require.ErrorIs(t, err, ErrUnavailable)

	tok, err := Static("tok").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	p, err := FromConfig("", "", time.Minute)
	require.NoError(t, err)
	assert.IsType(t, None{}, p)

	p, err = FromConfig("static", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Static("static"), p)

	p, err = FromConfig("static", "fetch-token", time.Minute)
	require.NoError(t, err)
	assert.IsType(t, timeoutProvider{}, p)

	tok, err := None{}.Token(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tok)
}
