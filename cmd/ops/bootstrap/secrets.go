package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Secret is one SSM-backed configuration value.
type Secret struct {
	// EnvVar is the variable config.LoadConfig reads; the tool emits
	// EnvVar+"_SSM_PARAM" pointing at the stored parameter.
	EnvVar string
	// CategoryKey is the path below /{env}/eventbell/.
	CategoryKey string
	Label       string
	Optional    bool
}

// Inventory lists the secrets the services resolve from SSM.
var Inventory = []Secret{
	{EnvVar: "DATABASE_URL", CategoryKey: "database/url", Label: "Postgres connection URL"},
	{EnvVar: "MESSAGING_DEFAULT_TOKEN", CategoryKey: "messaging/default_token", Label: "Default channel access token"},
	{EnvVar: "MESSAGING_DEFAULT_SECRET", CategoryKey: "messaging/default_secret", Label: "Default channel secret"},
}

// Runner writes the inventory to SSM.
type Runner struct {
	SSM       *SSMManager
	Secrets   []Secret
	Lookup    func(key string) (string, bool)
	In        io.Reader
	Out       io.Writer
	Prompt    io.Writer
	Overwrite bool
}

// Run stores each secret, skipping parameters that already exist unless
// Overwrite is set. Values come from the environment, falling back to a
// prompt. It finishes by printing the *_SSM_PARAM lines to Out.
func (r *Runner) Run(ctx context.Context) error {
	in := bufio.NewScanner(r.In)
	var lines []string

	for _, s := range r.Secrets {
		path := r.SSM.SSMPath(s.CategoryKey)

		exists, err := r.SSM.ParameterExists(ctx, path)
		if err != nil {
			return err
		}
		if exists && !r.Overwrite {
			fmt.Fprintf(r.Prompt, "  %s: already set at %s, skipping\n", s.Label, path)
			lines = append(lines, pointerLine(s, path))
			continue
		}

		value, err := r.value(in, s)
		if err != nil {
			return err
		}
		if value == "" {
			if s.Optional {
				fmt.Fprintf(r.Prompt, "  %s: no value, skipping\n", s.Label)
				continue
			}
			return fmt.Errorf("no value for required secret %s", s.EnvVar)
		}

		if err := r.SSM.PutSecret(ctx, path, value, r.Overwrite); err != nil {
			return err
		}
		lines = append(lines, pointerLine(s, path))
	}

	for _, l := range lines {
		fmt.Fprintln(r.Out, l)
	}
	return nil
}

func (r *Runner) value(in *bufio.Scanner, s Secret) (string, error) {
	if v, ok := r.Lookup(s.EnvVar); ok && v != "" {
		return v, nil
	}
	fmt.Fprintf(r.Prompt, "  %s (%s): ", s.Label, s.EnvVar)
	if !in.Scan() {
		if err := in.Err(); err != nil {
			return "", fmt.Errorf("reading %s: %w", s.EnvVar, err)
		}
		return "", nil
	}
	return strings.TrimSpace(in.Text()), nil
}

func pointerLine(s Secret, path string) string {
	return s.EnvVar + "_SSM_PARAM=" + path
}
