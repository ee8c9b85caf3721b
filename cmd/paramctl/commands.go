package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"vslib-go/components"
	"vslib-go/param"
	presets "vslib-go/services/config"
	"vslib-go/services/paramsetting"
	"vslib-go/types"
)

// session is one demo tree with its parameter service, driven inline.
type session struct {
	root *param.Root
	reg  *param.Registry
	svc  *paramsetting.Service
	out  io.Writer
}

func newSession(out io.Writer, preset string) (*session, error) {
	root, _ := components.NewDemo()
	reg, err := param.Build(root)
	if err != nil {
		return nil, err
	}
	s := &session{root: root, reg: reg, svc: paramsetting.New(root, reg, nil, paramsetting.Options{}), out: out}
	if preset == "" {
		return s, nil
	}
	raw, ok := presets.EmbeddedPresetLookup(preset)
	if !ok {
		return nil, fmt.Errorf("no embedded preset %q", preset)
	}
	entries, err := presets.ParsePresets(raw)
	if err != nil {
		return nil, err
	}
	for _, c := range presets.Commands(entries) {
		if st := s.svc.Handle(c); !st.OK {
			return nil, fmt.Errorf("preset %s: %s", preset, st.Message)
		}
	}
	if _, err := s.svc.Commit(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// set applies one value to the background slot and prints its status.
func (s *session) set(name, value string) bool {
	st := s.svc.Handle(types.NewCommand(name, jsonArg(value)))
	s.printStatus(st)
	return st.OK
}

func (s *session) commit() error {
	sts, err := s.svc.Commit(context.Background())
	if err != nil {
		return err
	}
	for _, st := range sts {
		s.printStatus(st)
	}
	if len(sts) == 0 {
		fmt.Fprintln(s.out, "nothing to commit")
	}
	return nil
}

func (s *session) get(name string) error {
	p, ok := s.reg.Parameter(name)
	if !ok {
		return fmt.Errorf("unknown parameter %q", name)
	}
	b, err := json.Marshal(p.Describe().Value)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s = %s\n", name, b)
	return nil
}

func (s *session) manifest() error {
	b, err := s.svc.Manifest()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, b, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = buf.WriteTo(s.out)
	return err
}

func (s *session) printStatus(st types.Status) {
	fmt.Fprintf(s.out, "%-20s %s\n", st.Code, st.Message)
}

// jsonArg accepts JSON text as is and quotes anything else as a string.
func jsonArg(v string) json.RawMessage {
	if json.Valid([]byte(v)) {
		return json.RawMessage(v)
	}
	b, _ := json.Marshal(v)
	return b
}

func newRootCmd() *cobra.Command {
	var preset string
	root := &cobra.Command{
		Use:           "paramctl",
		Short:         "Inspect and set parameters of the demo converter tree",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&preset, "preset", "", "apply an embedded preset set first (e.g. demo)")

	open := func(cmd *cobra.Command) (*session, error) {
		return newSession(cmd.OutOrStdout(), preset)
	}

	root.AddCommand(&cobra.Command{
		Use:   "manifest",
		Short: "Print the manifest of active values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			return s.manifest()
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "command NAME VALUE",
		Short: "Validate and stage one value without committing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			if !s.set(args[0], args[1]) {
				return errors.New("command rejected")
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "apply NAME=VALUE...",
		Short: "Stage values and commit them in one batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			for _, a := range args {
				name, value, ok := strings.Cut(a, "=")
				if !ok {
					return fmt.Errorf("%q: expected NAME=VALUE", a)
				}
				s.set(name, value)
			}
			return s.commit()
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "shell",
		Short: "Read set/commit/get/manifest lines from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			return s.shell(cmd.InOrStdin())
		},
	})
	return root
}

// shell runs a line-oriented session. Lines are split with shell quoting
// rules so string values may contain spaces.
func (s *session) shell(in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		words, err := shlex.Split(sc.Text())
		if err != nil {
			fmt.Fprintln(s.out, "error:", err)
			continue
		}
		if len(words) == 0 || strings.HasPrefix(words[0], "#") {
			continue
		}
		switch cmd, args := words[0], words[1:]; {
		case cmd == "quit" || cmd == "exit":
			return nil
		case cmd == "set" && len(args) == 2:
			s.set(args[0], args[1])
		case cmd == "commit" && len(args) == 0:
			err = s.commit()
		case cmd == "get" && len(args) == 1:
			err = s.get(args[0])
		case cmd == "manifest" && len(args) == 0:
			err = s.manifest()
		default:
			fmt.Fprintf(s.out, "usage: set NAME VALUE | commit | get NAME | manifest | quit\n")
		}
		if err != nil {
			fmt.Fprintln(s.out, "error:", err)
		}
	}
	return sc.Err()
}
