package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dreamware/shardkv/internal/cluster"
)

func newShellCommand(a *app) *cobra.Command {
	var script string
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive shell over an in-memory cluster",
		Long: `Start an interactive shell over a fresh cluster.

Values are JSON objects; quote them as one word:

  insert '{"name": "A"}'
  update <key> '{"name": "A2"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.newCluster()
			if err != nil {
				return err
			}
			s := &shell{cluster: c, out: cmd.OutOrStdout()}

			if script != "" {
				f, err := os.Open(script)
				if err != nil {
					return errors.Wrapf(err, "failed to open script %s", script)
				}
				defer f.Close()
				return s.runScript(f)
			}
			return s.loop(a.conf.Shell.Prompt, a.conf.Shell.HistoryFile)
		},
	}
	cmd.Flags().StringVarP(&script, "script", "f", "", "Run the commands in this file instead of reading a terminal")
	return cmd
}

type shell struct {
	cluster *cluster.Cluster[document]
	out     io.Writer
}

func (s *shell) loop(prompt, historyFile string) error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       historyFile,
		AutoComplete:      shellCompleter(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to open terminal")
	}
	defer l.Close()
	s.out = l.Stdout()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		if s.exec(line) {
			return nil
		}
	}
}

// runScript executes every line of r, skipping blanks and # comments.
func (s *shell) runScript(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if s.exec(line) {
			return nil
		}
	}
	return scanner.Err()
}

// exec runs one shell line and reports whether the session is over.
func (s *shell) exec(line string) bool {
	args, err := shellwords.Parse(line)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return false
	}
	if len(args) == 0 {
		return false
	}
	if args[0] == "exit" || args[0] == "quit" {
		return true
	}

	cmd := s.commands()
	cmd.SetArgs(args)
	cmd.SetOut(s.out)
	cmd.SetErr(s.out)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return false
}

// commands builds a fresh command tree for one line, so no flag state leaks
// between lines.
func (s *shell) commands() *cobra.Command {
	root := &cobra.Command{
		Use:           "shardkv",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		&cobra.Command{
			Use:                   "insert json",
			Short:                 "Insert a record under a new key",
			Args:                  cobra.ExactArgs(1),
			RunE:                  s.insert,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "select key",
			Short:                 "Print the record stored under key",
			Args:                  cobra.ExactArgs(1),
			RunE:                  s.selectRecord,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "update key json",
			Short:                 "Replace the record stored under key",
			Args:                  cobra.ExactArgs(2),
			RunE:                  s.update,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "delete key",
			Short:                 "Delete the record stored under key",
			Args:                  cobra.ExactArgs(1),
			RunE:                  s.delete,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "resize shards",
			Short:                 "Rehash every record onto a new number of shards",
			Args:                  cobra.ExactArgs(1),
			RunE:                  s.resize,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "describe",
			Short:                 "Print the record count of every shard",
			Args:                  cobra.NoArgs,
			Run:                   s.describe,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "keys",
			Short:                 "List every stored key",
			Args:                  cobra.NoArgs,
			Run:                   s.keys,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "verify",
			Short:                 "Check that the shards and the global index agree",
			Args:                  cobra.NoArgs,
			RunE:                  s.verify,
			DisableFlagsInUseLine: true,
		},
	)
	return root
}

func (s *shell) insert(cmd *cobra.Command, args []string) error {
	value, err := parseDocument(args[0])
	if err != nil {
		return err
	}
	key, err := s.cluster.Insert(value)
	if err != nil {
		return err
	}
	cmd.Println(key)
	return nil
}

func (s *shell) selectRecord(cmd *cobra.Command, args []string) error {
	value, err := s.cluster.Select(args[0])
	if err != nil {
		return err
	}
	data, err := cluster.JSONCodec.Marshal(value)
	if err != nil {
		return err
	}
	cmd.Println(string(data))
	return nil
}

func (s *shell) update(cmd *cobra.Command, args []string) error {
	value, err := parseDocument(args[1])
	if err != nil {
		return err
	}
	if err := s.cluster.Update(args[0], value); err != nil {
		return err
	}
	cmd.Printf("Updated %s\n", args[0])
	return nil
}

func (s *shell) delete(cmd *cobra.Command, args []string) error {
	if err := s.cluster.Delete(args[0]); err != nil {
		return err
	}
	cmd.Printf("Deleted %s\n", args[0])
	return nil
}

func (s *shell) resize(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return errors.Errorf("invalid shard count %q", args[0])
	}
	if err := s.cluster.Resize(n); err != nil {
		return err
	}
	cmd.Printf("Resized to %d shards, generation %d\n", n, s.cluster.Generation())
	return nil
}

func (s *shell) describe(cmd *cobra.Command, _ []string) {
	for _, line := range s.cluster.Describe() {
		cmd.Println(line)
	}
}

func (s *shell) keys(cmd *cobra.Command, _ []string) {
	keys := s.cluster.Keys()
	for _, key := range keys {
		cmd.Println(key)
	}
	cmd.Printf("%d keys\n", len(keys))
}

func (s *shell) verify(cmd *cobra.Command, _ []string) error {
	if err := s.cluster.Verify(); err != nil {
		return err
	}
	cmd.Println("OK")
	return nil
}

// parseDocument decodes a shell argument into a JSON object
func parseDocument(arg string) (document, error) {
	var value document
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(arg), &value); err != nil {
		return nil, errors.Wrapf(cluster.ErrInvalidValue, "not a JSON object: %v", err)
	}
	if value == nil {
		return nil, errors.Wrap(cluster.ErrInvalidValue, "not a JSON object: null")
	}
	return value, nil
}

func shellCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("insert"),
		readline.PcItem("select"),
		readline.PcItem("update"),
		readline.PcItem("delete"),
		readline.PcItem("resize"),
		readline.PcItem("describe"),
		readline.PcItem("keys"),
		readline.PcItem("verify"),
		readline.PcItem("exit"),
	)
}
