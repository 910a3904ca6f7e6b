package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantarax/deltasync/internal/filesync"
	"github.com/quantarax/deltasync/internal/patchfile"
	"github.com/quantarax/deltasync/internal/signature"
	"github.com/quantarax/deltasync/internal/validation"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "rdelta",
		Short:         "Compute and apply binary deltas between files",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addGlobalFlags(root.PersistentFlags(), &a.flags)

	root.AddCommand(
		newSignatureCmd(a),
		newDiffCmd(a),
		newPatchCmd(a),
		newInspectCmd(),
		newCacheCmd(a),
	)
	return root
}

func newSignatureCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "signature BASE [SIG]",
		Short: "Write the block signature of BASE",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPaths(args[:1], optionalArg(args, 1)); err != nil {
				return err
			}
			if err := a.setup(cmd); err != nil {
				return err
			}
			return withOutput(cmd, args, 1, func(w io.Writer) error {
				_, err := a.engine.WriteSignature(cmd.Context(), args[0], w)
				return err
			})
		},
	}
}

func newDiffCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diff SIG TARGET [PATCH]",
		Short: "Write a patch that turns the signed base into TARGET",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPaths(args[:2], optionalArg(args, 2)); err != nil {
				return err
			}
			if err := a.setup(cmd); err != nil {
				return err
			}
			sig, err := filesync.ReadSignature(args[0])
			if err != nil {
				return err
			}
			return withOutput(cmd, args, 2, func(w io.Writer) error {
				_, err := a.engine.Diff(cmd.Context(), sig, args[1], w)
				return err
			})
		},
	}
}

func newPatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch BASE PATCH OUT",
		Short: "Apply PATCH to BASE and write the verified result to OUT",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPaths(args[:2], args[2]); err != nil {
				return err
			}
			if err := a.setup(cmd); err != nil {
				return err
			}
			res, err := a.engine.Patch(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d bytes, digest %s\n",
				args[2], res.Written, hex.EncodeToString(res.Digest))
			return nil
		},
	}
	cmd.Flags().BoolVar(&a.force, "force", false, "keep the output even if verification fails")
	return cmd
}

func newInspectCmd() *cobra.Command {
	var showCommands bool
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Describe a patch or signature file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPaths(args, ""); err != nil {
				return err
			}
			return inspect(cmd.OutOrStdout(), args[0], showCommands)
		},
	}
	cmd.Flags().BoolVar(&showCommands, "commands", false, "list every delta command")
	return cmd
}

func newCacheCmd(a *app) *cobra.Command {
	cache := &cobra.Command{
		Use:   "cache",
		Short: "Manage the signature cache",
	}

	var maxAge time.Duration
	gc := &cobra.Command{
		Use:   "gc",
		Short: "Remove cached signatures older than --max-age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			if !cmd.Flags().Changed("max-age") {
				maxAge = a.cfg.CacheMaxAge
			}
			removed, err := a.engine.CollectCache(maxAge)
			if err != nil {
				return err
			}
			a.logger.CacheCollected(a.cfg.CachePath, removed, maxAge)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached signatures\n", removed)
			return nil
		},
	}
	gc.Flags().DurationVar(&maxAge, "max-age", 0, "maximum entry age (default from config)")
	cache.AddCommand(gc)
	return cache
}

// checkPaths fails fast on missing inputs and on an output whose directory
// does not exist, before any file is scanned.
func checkPaths(inputs []string, output string) error {
	for _, p := range inputs {
		if err := validation.ValidateFilePath(p, true); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	if output != "" {
		if err := validation.ValidateParentDir(output); err != nil {
			return fmt.Errorf("%s: %w", output, err)
		}
	}
	return nil
}

func optionalArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

// withOutput runs write against args[i] if present, else stdout. A file
// that could not be fully written is removed.
func withOutput(cmd *cobra.Command, args []string, i int, write func(io.Writer) error) error {
	if len(args) <= i {
		return write(cmd.OutOrStdout())
	}
	f, err := os.Create(args[i])
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(args[i])
		return err
	}
	return f.Close()
}

func inspect(w io.Writer, path string, showCommands bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	env, format, perr := patchfile.Decode(bytes.NewReader(data))
	if perr == nil {
		d := env.Delta
		st := d.Stats()
		fmt.Fprintf(w, "patch %s (%s, version %d)\n", env.ID, format, env.Version)
		fmt.Fprintf(w, "  created:      %s\n", env.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "  block size:   %d\n", d.BlockSize)
		fmt.Fprintf(w, "  algorithms:   %s/%s\n", d.WeakAlgorithm, d.StrongAlgorithm)
		fmt.Fprintf(w, "  target:       %d bytes, digest %s\n", d.TargetSize, hex.EncodeToString(d.TargetDigest))
		fmt.Fprintf(w, "  commands:     %d copies, %d literals (%d literal bytes)\n", st.Copies, st.Literals, st.LiteralBytes)
		if showCommands {
			for i, c := range d.Commands {
				fmt.Fprintf(w, "  %6d %s\n", i, c)
			}
		}
		return nil
	}

	set, serr := signature.Unmarshal(data)
	if serr != nil {
		return fmt.Errorf("%s is neither a patch (%v) nor a signature: %w", path, perr, serr)
	}
	fmt.Fprintf(w, "signature\n")
	fmt.Fprintf(w, "  block size:   %d\n", set.BlockSize())
	fmt.Fprintf(w, "  algorithms:   %s/%s\n", set.Weak().ID(), set.Strong().ID())
	fmt.Fprintf(w, "  base:         %d bytes, %d blocks\n", set.BaseSize(), set.Len())
	fmt.Fprintf(w, "  weak chains:  %d\n", set.Chains())
	fmt.Fprintf(w, "  merkle root:  %s\n", hex.EncodeToString(set.Root()))
	return nil
}
