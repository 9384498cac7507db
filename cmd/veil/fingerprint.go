package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/entrhq/veil/pkg/fingerprint"
)

// FingerprintCmd groups the fingerprint subcommands.
type FingerprintCmd struct {
	Show       FingerprintShowCmd       `cmd:"" help:"Print a profile's persisted fingerprint record"`
	Regenerate FingerprintRegenerateCmd `cmd:"" help:"Discard a profile's fingerprint so the next launch creates a new one"`
}

// FingerprintShowCmd implements 'fingerprint show'.
type FingerprintShowCmd struct {
	ID string `arg:"" help:"Profile id"`
}

func (c *FingerprintShowCmd) Run(app *App) error {
	if err := requireProfile(app, c.ID); err != nil {
		return err
	}
	fps, err := app.Fingerprints()
	if err != nil {
		return err
	}

	rec, err := fps.Load(c.ID)
	if errors.Is(err, fingerprint.ErrNoRecord) {
		fmt.Fprintln(app.Out, mutedStyle.Render("No fingerprint yet; one is generated on first launch."))
		return nil
	}
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	fmt.Fprintln(app.Out, string(out))
	return nil
}

// FingerprintRegenerateCmd implements 'fingerprint regenerate'.
type FingerprintRegenerateCmd struct {
	IDs []string `arg:"" name:"id" help:"Profile ids"`
}

func (c *FingerprintRegenerateCmd) Run(app *App) error {
	fps, err := app.Fingerprints()
	if err != nil {
		return err
	}
	for _, id := range c.IDs {
		if err := requireProfile(app, id); err != nil {
			return err
		}
		if err := fps.Regenerate(id); err != nil {
			return err
		}
		fmt.Fprintf(app.Out, "Fingerprint for %s will be regenerated on next launch\n", valueStyle.Render(id))
	}
	return nil
}

func requireProfile(app *App, id string) error {
	store, err := app.Profiles()
	if err != nil {
		return err
	}
	_, err = store.Get(context.Background(), id)
	return err
}
