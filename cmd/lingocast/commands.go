package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/MrWong99/lingocast/internal/app"
	"github.com/MrWong99/lingocast/internal/catalog"
	"github.com/MrWong99/lingocast/internal/config"
	"github.com/MrWong99/lingocast/internal/reconstruct"
	"github.com/MrWong99/lingocast/pkg/types"
)

// errUsage marks errors caused by bad flag values.
var errUsage = errors.New("usage error")

type execFunc func(ctx context.Context, a *app.App, out io.Writer) error

type command struct {
	name    string
	summary string
	// setup registers the command's flags and returns the function to run
	// once they are parsed.
	setup func(fs *flag.FlagSet) execFunc
}

var commands = []command{
	{"generate", "tokenize, resolve, assemble and persist lessons", setupGenerate},
	{"scan", "detect corrupt vocabulary audio, repair it and patch affected lessons", setupScan},
	{"reconstruct", "patch the lessons that use the given vocabulary files", setupReconstruct},
	{"catalog", "write catalog.json", setupCatalog},
	{"vocab-lint", "list near-duplicate vocabulary keys", setupLint},
	{"voices", "list synthesizer voices and check the configured ones", setupVoices},
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func scopeFlag(fs *flag.FlagSet) *string {
	return fs.String("scope", "", "restrict to one configured scope (language/level)")
}

func selectScopes(a *app.App, filter string) ([]config.ScopeConfig, error) {
	scopes, err := a.Scopes(filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	return scopes, nil
}

func setupGenerate(fs *flag.FlagSet) execFunc {
	scope := scopeFlag(fs)
	force := fs.Bool("force", false, "regenerate lessons that already have a timing manifest")
	return func(ctx context.Context, a *app.App, out io.Writer) error {
		scopes, err := selectScopes(a, *scope)
		if err != nil {
			return err
		}
		reports, err := a.Generate(ctx, scopes, *force)

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SCOPE\tGENERATED\tSKIPPED\tFAILED\tNEW ENTRIES\tSYNTHESIZED")
		for _, r := range reports {
			if r.Scope == (types.Scope{}) {
				continue
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", r.Scope, len(r.Generated), len(r.Skipped), len(r.Failed), r.EntriesCreated, r.Synthesized)
		}
		tw.Flush()
		for _, r := range reports {
			for _, f := range r.Failed {
				fmt.Fprintf(out, "failed %s/%s: %v\n", r.Scope, f.LessonID, f.Err)
			}
		}
		return err
	}
}

func setupScan(fs *flag.FlagSet) execFunc {
	scope := scopeFlag(fs)
	repair := fs.Bool("repair", true, "re-synthesise corrupt entries and patch affected lessons")
	return func(ctx context.Context, a *app.App, out io.Writer) error {
		scopes, err := selectScopes(a, *scope)
		if err != nil {
			return err
		}
		reports, err := a.Scan(ctx, scopes, *repair)

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SCOPE\tCORRUPT\tREPAIRED\tREPAIR FAILED\tPATCH PENDING\tLESSONS PATCHED\tINCONSISTENT")
		for _, r := range reports {
			if r.Scope == (types.Scope{}) {
				continue
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n", r.Scope, r.Corrupt(), len(r.Repair.Repaired), len(r.Repair.Failed),
				len(r.Repair.Pending), r.Reconstruct.Count(reconstruct.StatusPatched), r.Reconstruct.Count(reconstruct.StatusInconsistent))
		}
		tw.Flush()
		for _, r := range reports {
			for _, v := range r.Verdicts {
				if v.Corrupt {
					fmt.Fprintf(out, "corrupt %s/%s (%s): %q\n", r.Scope, v.Entry.File, v.Reason, v.Entry.Text)
				}
			}
		}
		return err
	}
}

func setupReconstruct(fs *flag.FlagSet) execFunc {
	scope := fs.String("scope", "", "scope of the vocabulary files (language/level), required")
	files := fs.String("files", "", "comma-separated vocabulary filenames, e.g. 00003.wav,00007.wav")
	return func(ctx context.Context, a *app.App, out io.Writer) error {
		if *scope == "" || *files == "" {
			return fmt.Errorf("%w: -scope and -files are required", errUsage)
		}
		scopes, err := selectScopes(a, *scope)
		if err != nil {
			return err
		}
		sc := scopes[0].Scope()
		var names []string
		for f := range strings.SplitSeq(*files, ",") {
			if f = strings.TrimSpace(f); f != "" {
				names = append(names, f)
			}
		}

		rep, err := a.Reconstruct(ctx, sc, names)
		if err != nil {
			if errors.Is(err, app.ErrUnknownFile) {
				return fmt.Errorf("%w: %w", errUsage, err)
			}
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "LESSON\tSTATUS\tPATCHED\tMISSING")
		for _, l := range rep.Lessons {
			fmt.Fprintf(tw, "%s\t%s\t%v\t%v\n", l.LessonID, l.Status, l.Patched, l.Missing)
		}
		tw.Flush()
		for _, m := range rep.Malformed {
			fmt.Fprintf(out, "skipped malformed manifest of %s\n", m)
		}
		if n := rep.Count(reconstruct.StatusFailed) + rep.Count(reconstruct.StatusInconsistent); n > 0 {
			return fmt.Errorf("%d lessons could not be patched", n)
		}
		return nil
	}
}

func setupCatalog(*flag.FlagSet) execFunc {
	return func(ctx context.Context, a *app.App, out io.Writer) error {
		c, err := a.Catalog(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "catalog.json: %d lessons (%d generated, %d pending, %d inconsistent)\n",
			len(c.Lessons), c.Count(catalog.StatusGenerated), c.Count(catalog.StatusPending), c.Count(catalog.StatusInconsistent))
		return nil
	}
}

func setupLint(fs *flag.FlagSet) execFunc {
	scope := scopeFlag(fs)
	return func(ctx context.Context, a *app.App, out io.Writer) error {
		scopes, err := selectScopes(a, *scope)
		if err != nil {
			return err
		}
		reports, err := a.Lint(ctx, scopes)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SCOPE\tA\tB\tSCORE\tPHONETIC")
		for _, r := range reports {
			for _, f := range r.Findings {
				fmt.Fprintf(tw, "%s\t%s (%s)\t%s (%s)\t%.3f\t%t\n", r.Scope, f.A.Text, f.A.File, f.B.Text, f.B.File, f.Score, f.Phonetic)
			}
		}
		tw.Flush()
		return err
	}
}

func setupVoices(fs *flag.FlagSet) execFunc {
	scope := scopeFlag(fs)
	list := fs.Bool("list", false, "print every voice, not only the check result")
	return func(ctx context.Context, a *app.App, out io.Writer) error {
		scopes, err := selectScopes(a, *scope)
		if err != nil {
			return err
		}
		reports, err := a.Voices(ctx, scopes)
		if err != nil {
			return err
		}
		missing := 0
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SYNTHESIZER\tVOICES\tMISSING")
		for _, r := range reports {
			switch {
			case r.Unsupported:
				fmt.Fprintf(tw, "%s\t-\tcannot list voices\n", r.Synthesizer)
			case r.Err != nil:
				fmt.Fprintf(tw, "%s\t-\t%v\n", r.Synthesizer, r.Err)
			default:
				fmt.Fprintf(tw, "%s\t%d\t%s\n", r.Synthesizer, len(r.Voices), strings.Join(r.Missing, ", "))
				missing += len(r.Missing)
			}
		}
		tw.Flush()
		if *list {
			for _, r := range reports {
				for _, v := range r.Voices {
					fmt.Fprintf(out, "%s\t%s\t%s\n", r.Synthesizer, v.ID, v.Name)
				}
			}
		}
		if missing > 0 {
			return fmt.Errorf("%d configured voices are not offered", missing)
		}
		return nil
	}
}
