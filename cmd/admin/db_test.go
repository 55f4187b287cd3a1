package main

import "testing"

func TestLoadDatabaseConfig(t *testing.T) {
	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("DATABASE_PORT", "6543")
	t.Setenv("POSTGRES_DB", "cvsync")
	t.Setenv("POSTGRES_USER", "env-user")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("DATABASE_SSLMODE", "")

	cfg, err := loadDatabaseConfig("", 0, "", "flag-user", "", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Host != "db.internal" || cfg.Port != 6543 || cfg.User != "flag-user" || cfg.SSLMode != "disable" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("POSTGRES_PASSWORD", "")
	if _, err := loadDatabaseConfig("", 0, "", "", "", ""); err == nil {
		t.Fatal("expected missing password error")
	}

	t.Setenv("DATABASE_PORT", "abc")
	if _, err := loadDatabaseConfig("", 0, "", "", "pw", ""); err == nil {
		t.Fatal("expected port parse error")
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"create-user", "issue-token"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %q not registered: %v", name, err)
		}
	}
}
