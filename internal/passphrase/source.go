// Package passphrase resolves keystore secrets for the command line tools.
package passphrase

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a passphrase from an environment variable or, failing that,
// an interactive prompt. The first result is cached.
type Source struct {
	envVar string
	label  string
	lookup func(string) (string, bool)
	prompt func(label string) (string, error)

	once  sync.Once
	value string
	err   error
}

// Option customises a Source.
type Option func(*Source)

// WithLabel names the secret in prompts and errors, e.g. "owner keystore".
func WithLabel(label string) Option {
	return func(s *Source) {
		if label = strings.TrimSpace(label); label != "" {
			s.label = label
		}
	}
}

// WithEnv replaces os.LookupEnv.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(s *Source) {
		if lookup != nil {
			s.lookup = lookup
		}
	}
}

// WithPrompt replaces the terminal prompt.
func WithPrompt(prompt func(label string) (string, error)) Option {
	return func(s *Source) {
		if prompt != nil {
			s.prompt = prompt
		}
	}
}

// NewSource checks envVar before prompting.
func NewSource(envVar string, opts ...Option) *Source {
	s := &Source{
		envVar: strings.TrimSpace(envVar),
		label:  "keystore",
		lookup: os.LookupEnv,
	}
	s.prompt = s.terminalPrompt
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the passphrase. A variable that is set is used verbatim;
// whitespace-only values are rejected either way.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookup(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}
		value, err := s.prompt(s.label)
		if err != nil {
			s.err = err
			return
		}
		if strings.TrimSpace(value) == "" {
			s.err = fmt.Errorf("%s passphrase cannot be empty", s.label)
			return
		}
		s.value = value
	})
	return s.value, s.err
}

func (s *Source) terminalPrompt(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if s.envVar != "" {
			return "", fmt.Errorf("%s passphrase required; set %s or run interactively", label, s.envVar)
		}
		return "", fmt.Errorf("%s passphrase required and no terminal available", label)
	}
	return readSecret(os.Stderr, fd, label)
}

func readSecret(w io.Writer, fd int, label string) (string, error) {
	fmt.Fprintf(w, "Enter %s passphrase: ", label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(raw), nil
}
