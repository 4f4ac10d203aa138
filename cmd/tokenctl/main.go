// tokenctl provisions login credentials for worldsync characters.
//
// Usage:
//
//	go run ./cmd/tokenctl <command> [flags]
//
// Commands:
//
//	set  -id <character> -token <secret> [-name <name>]   store a bcrypt token hash (auth mode "store")
//	jwt  -id <character> [-ttl 24h]                         issue a signed token (auth mode "jwt")
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/worldsync/server/internal/auth"
	"github.com/worldsync/server/internal/config"
	"github.com/worldsync/server/internal/persist"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "set":
		err = runSet(args)
	case "jwt":
		err = runJWT(args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokenctl %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tokenctl set -id <character> -token <secret> [-name <name>]")
	fmt.Fprintln(os.Stderr, "       tokenctl jwt -id <character> [-ttl 24h]")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = "config/server.toml"
		if p := os.Getenv("WORLDSYNC_CONFIG"); p != "" {
			path = p
		}
	}
	return config.Load(path)
}

func runSet(args []string) error {
	fs := flag.NewFlagSet("set", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")
	id := fs.String("id", "", "character id")
	name := fs.String("name", "", "display name for new characters")
	token := fs.String("token", "", "login secret")
	_ = fs.Parse(args)
	if *id == "" || *token == "" {
		return fmt.Errorf("-id and -token are required")
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg.Database, zap.NewNop())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := persist.RunMigrations(ctx, db); err != nil {
		return err
	}

	hash, err := auth.HashToken(*token)
	if err != nil {
		return err
	}
	if err := persist.NewCharacterRepo(db).SetTokenHash(ctx, *id, *name, hash); err != nil {
		return err
	}
	fmt.Printf("token stored for %s\n", *id)
	return nil
}

func runJWT(args []string) error {
	fs := flag.NewFlagSet("jwt", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")
	id := fs.String("id", "", "character id")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	_ = fs.Parse(args)
	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set")
	}
	tok, err := auth.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, time.Now).Issue(*id, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
