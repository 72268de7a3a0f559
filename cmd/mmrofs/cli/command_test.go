// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestDispatch(t *testing.T) {
	var ran []string
	root := &Command{
		Name: "tool",
		Subcommands: []*Command{
			{Name: "alpha", Run: func(args []string) error {
				ran = append(ran, "alpha")
				return nil
			}},
			{Name: "beta", Subcommands: []*Command{
				{Name: "deep", Run: func(args []string) error {
					ran = append(ran, "deep:"+strings.Join(args, ","))
					return nil
				}},
			}},
		},
	}

	if err := root.Execute([]string{"alpha"}); err != nil {
		t.Fatalf("alpha failed: %v", err)
	}
	if err := root.Execute([]string{"beta", "deep", "x", "y"}); err != nil {
		t.Fatalf("beta deep failed: %v", err)
	}
	if len(ran) != 2 || ran[0] != "alpha" || ran[1] != "deep:x,y" {
		t.Errorf("ran = %v", ran)
	}
}

func TestUnknownCommand(t *testing.T) {
	root := &Command{Name: "tool", Subcommands: []*Command{{Name: "only"}}}
	err := root.Execute([]string{"wrong"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("got %v", err)
	}
}

func TestSubcommandRequired(t *testing.T) {
	root := &Command{Name: "tool", Subcommands: []*Command{{Name: "sub"}}}
	if err := root.Execute(nil); err == nil {
		t.Error("no args with subcommands should fail")
	}
}

func TestFlagParsing(t *testing.T) {
	var verbose bool
	var got []string
	cmd := &Command{
		Name: "run",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
			fs.BoolVarP(&verbose, "verbose", "v", false, "chatty output")
			return fs
		},
		Run: func(args []string) error {
			got = args
			return nil
		},
	}

	if err := cmd.Execute([]string{"-v", "positional"}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !verbose {
		t.Error("flag not parsed")
	}
	if len(got) != 1 || got[0] != "positional" {
		t.Errorf("positional args = %v", got)
	}

	if err := cmd.Execute([]string{"--no-such-flag"}); err == nil {
		t.Error("unknown flag should fail")
	}
}

func TestHelpRendering(t *testing.T) {
	cmd := &Command{
		Name:    "tool",
		Summary: "does things",
		Subcommands: []*Command{
			{Name: "go", Summary: "goes"},
		},
		Examples: []Example{{Description: "basic use", Command: "tool go"}},
	}

	var out strings.Builder
	cmd.PrintHelp(&out)
	help := out.String()
	for _, want := range []string{"Usage:", "does things", "go", "goes", "basic use"} {
		if !strings.Contains(help, want) {
			t.Errorf("help missing %q:\n%s", want, help)
		}
	}
}
