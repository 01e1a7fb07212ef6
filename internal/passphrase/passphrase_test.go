package passphrase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "borg-tool/internal/errors"
)

// MockPrompter is a mock implementation of Prompter
type MockPrompter struct {
	mock.Mock
}

func (m *MockPrompter) Prompt(label string) (string, error) {
	args := m.Called(label)
	return args.String(0), args.Error(1)
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestGetOrPrompt_PromptsAtMostOnce(t *testing.T) {
	prompter := &MockPrompter{}
	prompter.On("Prompt", mock.AnythingOfType("string")).Return("hunter2", nil).Once()

	cache := NewCache(prompter).WithLookupEnv(env(nil))
	assert.False(t, cache.IsCached())

	for i := 0; i < 5; i++ {
		s, err := cache.GetOrPrompt(context.Background(), "/srv/borg")
		require.NoError(t, err)
		assert.Equal(t, []string{"BORG_PASSPHRASE=hunter2"}, s.Env())
		assert.Equal(t, SourcePrompt, s.Source())
	}

	assert.True(t, cache.IsCached())
	prompter.AssertNumberOfCalls(t, "Prompt", 1)
	prompter.AssertExpectations(t)
}

func TestGetOrPrompt_PromptLabelNamesRepository(t *testing.T) {
	prompter := &MockPrompter{}
	prompter.On("Prompt", "Enter passphrase for repo ssh://nas/borg (leave empty if none): ").Return("", nil)

	cache := NewCache(prompter).WithLookupEnv(env(nil))
	s, err := cache.GetOrPrompt(context.Background(), "ssh://nas/borg")
	require.NoError(t, err)
	assert.Equal(t, []string{"BORG_PASSPHRASE="}, s.Env(), "an empty answer is still a passphrase")
	prompter.AssertExpectations(t)
}

func TestGetOrPrompt_EnvironmentOverrides(t *testing.T) {
	tests := []struct {
		name       string
		vars       map[string]string
		wantEnv    []string
		wantSource Source
	}{
		{
			name:       "passphrase value",
			vars:       map[string]string{EnvPassphrase: "from-env"},
			wantEnv:    []string{"BORG_PASSPHRASE=from-env"},
			wantSource: SourceEnvironment,
		},
		{
			name:       "passcommand delegates to borg",
			vars:       map[string]string{EnvPassCommand: "pass show borg"},
			wantEnv:    nil,
			wantSource: SourceCommand,
		},
		{
			name:       "passcommand wins over value",
			vars:       map[string]string{EnvPassCommand: "pass show borg", EnvPassphrase: "x"},
			wantEnv:    nil,
			wantSource: SourceCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompter := &MockPrompter{}
			cache := NewCache(prompter).WithLookupEnv(env(tt.vars))

			s, err := cache.GetOrPrompt(context.Background(), "/srv/borg")
			require.NoError(t, err)
			assert.Equal(t, tt.wantEnv, s.Env())
			assert.Equal(t, tt.wantSource, s.Source())
			assert.True(t, cache.IsCached())
			prompter.AssertNotCalled(t, "Prompt", mock.Anything)
		})
	}
}

func TestGetOrPrompt_UnavailableCachesNothing(t *testing.T) {
	vars := map[string]string{}
	prompter := &MockPrompter{}
	prompter.On("Prompt", mock.Anything).Return("", ErrNoTerminal)

	cache := NewCache(prompter).WithLookupEnv(env(vars))

	_, err := cache.GetOrPrompt(context.Background(), "/srv/borg")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypePassphraseUnavailable))
	assert.True(t, errors.Is(err, ErrNoTerminal))
	assert.False(t, cache.IsCached())

	vars[EnvPassphrase] = "late"
	s, err := cache.GetOrPrompt(context.Background(), "/srv/borg")
	require.NoError(t, err)
	assert.Equal(t, []string{"BORG_PASSPHRASE=late"}, s.Env())
}

func TestGetOrPrompt_NilPrompter(t *testing.T) {
	cache := NewCache(nil).WithLookupEnv(env(nil))

	_, err := cache.GetOrPrompt(context.Background(), "")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypePassphraseUnavailable))
}

func TestGetOrPrompt_CanceledContext(t *testing.T) {
	prompter := &MockPrompter{}
	cache := NewCache(prompter).WithLookupEnv(env(nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cache.GetOrPrompt(ctx, "/srv/borg")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, cache.IsCached())
	prompter.AssertNotCalled(t, "Prompt", mock.Anything)
}

func TestSecretIsRedacted(t *testing.T) {
	prompter := &MockPrompter{}
	prompter.On("Prompt", mock.Anything).Return("topsecret", nil)
	cache := NewCache(prompter).WithLookupEnv(env(nil))

	s, err := cache.GetOrPrompt(context.Background(), "/srv/borg")
	require.NoError(t, err)

	for _, formatted := range []string{
		fmt.Sprint(s),
		fmt.Sprintf("%v", s),
		fmt.Sprintf("%+v", s),
		fmt.Sprintf("%#v", s),
		fmt.Sprintf("%s", s),
	} {
		assert.NotContains(t, formatted, "topsecret")
	}
}

func TestNone(t *testing.T) {
	s := None()
	assert.Nil(t, s.Env())
	assert.Equal(t, SourceNone, s.Source())
	assert.Equal(t, SourceNone, Secret{}.Source())
}

func TestTerminalPrompter_NoTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "stdin")
	require.NoError(t, err)
	defer f.Close()

	p := &TerminalPrompter{In: f, Out: os.Stderr}
	_, err = p.Prompt("pass: ")
	assert.ErrorIs(t, err, ErrNoTerminal)
}
