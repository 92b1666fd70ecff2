package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meigma/modlist/cache"
	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/patch"
)

func newPatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Build and apply binary patches",
	}
	cmd.AddCommand(newPatchBuildCmd(a), newPatchApplyCmd(a))
	return cmd
}

func newPatchBuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "build <src> <dest> <out>",
		Short: "Write a patch turning src into dest",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			dest, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			d := patch.NewDispatcher(cache.NewMemory(), patch.WithLogger(a.logger))
			p, err := d.Build(cmd.Context(), src, hashing.Sum(src), dest, hashing.Sum(dest))
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[2], p, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s patch %s (%s for %s)\n",
				patch.FormatOf(p), args[2], humanBytes(int64(len(p))), humanBytes(int64(len(dest))))
			return nil
		},
	}
}

func newPatchApplyCmd(a *app) *cobra.Command {
	var expect string
	cmd := &cobra.Command{
		Use:   "apply <src> <patch> <out>",
		Short: "Apply a patch to src and write the result",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			p, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			var out []byte
			if expect != "" {
				want, err := hashing.ParseHash(expect)
				if err != nil {
					return err
				}
				out, err = patch.ApplyVerified(src, p, want)
				if err != nil {
					return err
				}
			} else if out, err = patch.Apply(src, p); err != nil {
				return err
			}
			if err := os.WriteFile(args[2], out, 0o644); err != nil {
				return err
			}
			a.logger.Debug("applied patch", "path", args[2], "size", len(out))
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, hash %s)\n", args[2], humanBytes(int64(len(out))), hashing.Sum(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&expect, "hash", "", "expected content hash of the result")
	return cmd
}
