package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/agenthands/sigcas/pkg/core"
	"github.com/agenthands/sigcas/pkg/router"
	"github.com/spf13/cobra"
)

var putFlags struct {
	Name    string
	KeyFile string
}

var putCmd = &cobra.Command{
	Use:   "put FILE",
	Short: "Store a file and print its address",
	Long: `Store FILE (or stdin when FILE is "-") and print the address it can be read
back from. With --key the file is signed and stored under the pointer derived
from --name and the key's identity; without it the content digest is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		body, cleanup, err := openSeekable(args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		size, err := body.Seek(0, io.SeekEnd)
		if err != nil {
			return err
		}
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return err
		}

		req := router.Request{
			Method:       "PUT",
			Name:         putFlags.Name,
			Body:         body,
			ExpectedSize: size,
		}
		if putFlags.KeyFile != "" {
			key, err := readKeyFile(putFlags.KeyFile)
			if err != nil {
				return err
			}
			header, err := key.sign(body)
			if err != nil {
				return err
			}
			if _, err := body.Seek(0, io.SeekStart); err != nil {
				return err
			}
			req.Credential = &header
		}

		res := router.New(e.store, e.chain, e.log).Handle(cmd.Context(), req)
		if !res.Kind.OK() {
			return fmt.Errorf("%s: %s", res.Kind, res.Payload)
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Payload)
		return nil
	},
}

var getFlags struct {
	Output string
}

var getCmd = &cobra.Command{
	Use:   "get ADDRESS",
	Short: "Write an object to stdout or a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		res := router.New(e.store, e.chain, e.log).Handle(cmd.Context(), router.Request{Method: "GET", Name: args[0]})
		if res.Kind != router.Found {
			return fmt.Errorf("%s: %s", res.Kind, res.Payload)
		}
		defer res.Content.Close()

		out := cmd.OutOrStdout()
		if getFlags.Output != "" && getFlags.Output != "-" {
			f, err := os.Create(getFlags.Output)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		_, err = io.Copy(out, res.Content)
		return err
	},
}

var statCmd = &cobra.Command{
	Use:   "stat ADDRESS",
	Short: "Describe an object or the object a pointer designates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		addr, err := core.ParseAddress(args[0])
		if err != nil {
			return err
		}
		info, err := e.store.Stat(cmd.Context(), addr)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return fmt.Errorf("no such record: %s", addr)
			}
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "digest:  %s\n", info.Digest)
		fmt.Fprintf(w, "cid:     %s\n", info.CID)
		fmt.Fprintf(w, "size:    %d\n", info.Size)
		if info.Pointer != nil {
			fmt.Fprintf(w, "pointer: %s\n", info.Pointer)
		}
		return nil
	},
}

func init() {
	putCmd.Flags().StringVarP(&putFlags.Name, "name", "n", "", "resource name for signed writes")
	putCmd.Flags().StringVarP(&putFlags.KeyFile, "key", "k", "", "key file from 'sigcas keygen'")
	getCmd.Flags().StringVarP(&getFlags.Output, "output", "o", "", "write to this file instead of stdout")
}

// openSeekable returns path as a seekable reader, spooling stdin to a temp
// file when path is "-".
func openSeekable(path string) (*os.File, func(), error) {
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { f.Close() }, nil
	}

	f, err := os.CreateTemp("", "sigcas-stdin-*")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		f.Close()
		os.Remove(f.Name())
	}
	if _, err := io.Copy(f, os.Stdin); err != nil {
		cleanup()
		return nil, nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, nil, err
	}
	return f, cleanup, nil
}
