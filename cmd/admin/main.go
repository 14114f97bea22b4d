package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"toolgate.org/internal/admin"
	"toolgate.org/internal/audit"
	"toolgate.org/internal/config"
	"toolgate.org/internal/integrity"
	"toolgate.org/internal/policy"
	"toolgate.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)

	var (
		username = pflag.String("username", "", "target username")
		password = pflag.String("password", "", "password (omit with --generate)")
		generate = pflag.Bool("generate", false, "generate a password instead of --password")
		reason   = pflag.String("reason", "", "reason recorded when blocking")
		name     = pflag.String("name", "", "group or policy name")
		file     = pflag.String("file", "", "path to a JSON statement list")
		groups   = pflag.StringSlice("groups", nil, "group names")
		add      = pflag.StringSlice("add", nil, "names to add")
		remove   = pflag.StringSlice("remove", nil, "names to remove")
		from     = pflag.String("from", "", "audit range start (RFC3339)")
		to       = pflag.String("to", "", "audit range end (RFC3339)")
		limit    = pflag.Int("limit", 100, "audit listing limit")
		yes      = pflag.BoolP("yes", "y", false, "confirm mutations on compromised records")
	)
	pflag.Parse()

	if pflag.NArg() < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.PostgresDSN == "" {
		log.Fatalf("missing DSN: set %s", config.EnvPostgresDSN)
	}
	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	hasher, err := integrity.NewHasher(cfg.SecretKey)
	if err != nil {
		log.Fatalf("integrity hasher: %v", err)
	}
	svc, err := admin.NewService(store, hasher)
	if err != nil {
		log.Fatalf("admin service: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entity, action := pflag.Arg(0), pflag.Arg(1)
	var res admin.Result

	switch entity {
	case "user":
		switch action {
		case "add":
			pwd := *password
			if *generate {
				pwd, err = admin.GeneratePassword()
				if err != nil {
					log.Fatalf("generate password: %v", err)
				}
			}
			res, err = svc.AddUser(ctx, admin.AddUserParams{
				Username: *username, Password: pwd, Groups: *groups,
			})
			if err == nil && *generate {
				fmt.Printf("Generated password: %s\n", pwd)
			}
		case "block":
			res, err = svc.BlockUser(ctx, *username, *reason, *yes)
		case "unblock":
			res, err = svc.UnblockUser(ctx, *username, *yes)
		case "delete":
			res, err = svc.DeleteUser(ctx, *username, *yes)
		case "change-password":
			res, err = svc.ChangePassword(ctx, *username, *password, *yes)
		case "groups":
			res, err = svc.ManageUserGroups(ctx, *username, *add, *remove, *yes)
		case "describe":
			views, derr := svc.DescribeUsers(ctx)
			if derr != nil {
				log.Fatalf("describe users: %v", derr)
			}
			printJSON(views)
			return
		default:
			usage()
		}
	case "group":
		switch action {
		case "add":
			res, err = svc.AddGroup(ctx, *name, *add)
		case "delete":
			res, err = svc.DeleteGroup(ctx, *name, *yes)
		case "policies":
			res, err = svc.ManageGroupPolicies(ctx, *name, *add, *remove, *yes)
		case "describe":
			views, derr := svc.DescribeGroups(ctx)
			if derr != nil {
				log.Fatalf("describe groups: %v", derr)
			}
			printJSON(views)
			return
		default:
			usage()
		}
	case "policy":
		switch action {
		case "add":
			res, err = svc.AddPolicy(ctx, *name, loadStatements(*file))
		case "update":
			res, err = svc.UpdatePolicy(ctx, *name, loadStatements(*file), *yes)
		case "delete":
			res, err = svc.DeletePolicy(ctx, *name, *yes)
		case "describe":
			views, derr := svc.DescribePolicies(ctx)
			if derr != nil {
				log.Fatalf("describe policies: %v", derr)
			}
			printJSON(views)
			return
		default:
			usage()
		}
	case "audit":
		if action != "list" {
			usage()
		}
		auditSvc := audit.NewService(store.Audit(), hasher)
		entries, lerr := auditSvc.List(ctx, *from, *to, *limit)
		if lerr != nil {
			log.Fatalf("list audit records: %v", lerr)
		}
		printJSON(entries)
		return
	default:
		usage()
	}

	if err != nil {
		log.Fatalf("%s %s: %v", entity, action, err)
	}
	for _, warning := range res.Warnings {
		fmt.Printf("WARNING: %s\n", warning)
	}
	if res.ConfirmationRequired {
		fmt.Println(res.Message)
		fmt.Println("Repeat the command with --yes to proceed.")
		os.Exit(3)
	}

	params, _ := json.Marshal(map[string]string{"username": *username, "name": *name})
	rec := &audit.Record{
		Group:      entity,
		Command:    action,
		Parameters: string(params),
		Result:     res.Message,
		Warnings:   res.Warnings,
	}
	if aerr := audit.NewService(store.Audit(), hasher).Save(ctx, rec); aerr != nil {
		fmt.Fprintf(os.Stderr, "WARNING: audit record not written: %v\n", aerr)
	}
	fmt.Println(res.Message)
}

func loadStatements(path string) []policy.Statement {
	if path == "" {
		log.Fatal("--file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	var statements []policy.Statement
	if err := json.Unmarshal(data, &statements); err != nil {
		log.Fatalf("decode %s: %v", path, err)
	}
	return statements
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("encode: %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: admin <entity> <action> [flags]

  user    add | block | unblock | delete | change-password | groups | describe
  group   add | delete | policies | describe
  policy  add | update | delete | describe
  audit   list`)
	os.Exit(2)
}
