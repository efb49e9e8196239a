package main

import (
	"strings"
	"testing"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"archive", "quote"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not found: %v", name, err)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("--config flag missing")
	}
}

func TestQuoteCmd_RequiresISIN(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"quote"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "arg") {
		t.Fatalf("err = %v", err)
	}
}

func TestArchiveCmd_ConfigError(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"archive", "--config", "/does/not/exist.yaml"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "config error") {
		t.Fatalf("err = %v", err)
	}
}
