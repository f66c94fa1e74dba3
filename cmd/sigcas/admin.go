package main

import (
	"fmt"

	"github.com/agenthands/sigcas/pkg/archive"
	"github.com/agenthands/sigcas/pkg/scrub"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export FILE.car",
	Short: "Write every object and pointer to a CARv2 archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		st, err := archive.Export(cmd.Context(), e.store, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d objects (%d bytes in %d chunks) and %d links to %s\n",
			st.Objects, st.Bytes, st.Chunks, st.Links, args[0])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import FILE.car",
	Short: "Load objects and pointers from a CARv2 archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		st, err := archive.Import(cmd.Context(), args[0], e.store)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d objects (%d bytes) and %d links\n",
			st.Objects, st.Bytes, st.Links)
		return nil
	},
}

var scrubCmd = &cobra.Command{
	Use:   "scrub",
	Short: "Rehash every object and check every pointer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		res, err := scrub.NewRunner(e.cfg.Scrub, e.store, e.log).RunOnce(cmd.Context())
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "checked %d objects (%d bytes) and %d links\n", res.Objects, res.Bytes, res.Links)
		for _, d := range res.Corrupt {
			fmt.Fprintf(w, "corrupt  %s\n", d)
		}
		for _, p := range res.Dangling {
			fmt.Fprintf(w, "dangling %s\n", p)
		}
		if !res.Clean() {
			return fmt.Errorf("%d corrupt objects, %d dangling links", len(res.Corrupt), len(res.Dangling))
		}
		return nil
	},
}
