// Package main runs the interactive qrvault shell: an offline password
// vault whose secrets leave the device only as operator-initiated QR
// frames.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/avoronov/qrvault/internal/cipher"
	"github.com/avoronov/qrvault/internal/config"
	"github.com/avoronov/qrvault/internal/logger"
	"github.com/avoronov/qrvault/internal/models"
	"github.com/avoronov/qrvault/internal/reconcile"
	"github.com/avoronov/qrvault/internal/vault"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

type app struct {
	log   *zap.Logger
	cfg   *config.Manager
	store *vault.Store
	rec   *reconcile.Reconciler
	in    *bufio.Scanner
}

func main() {
	options := config.Parse()

	level := "info"
	if options.Verbose {
		level = "debug"
	}
	log, err := logger.New(level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cannot init logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if version != "" {
		fmt.Printf("qrvault %s (%s)\n", version, buildDate)
	}

	cfg, err := config.NewManager(options.Dir)
	if err != nil {
		log.Fatal("cannot load config", zap.Error(err))
	}

	a := &app{
		log:   log,
		cfg:   cfg,
		store: vault.New(options.Dir, log),
		rec:   reconcile.New(log),
		in:    bufio.NewScanner(os.Stdin),
	}
	a.repl()
}

// repl runs the interactive shell loop.
func (a *app) repl() {
	for {
		fmt.Print("qrvault> ")
		if !a.in.Scan() {
			break
		}
		line := strings.TrimSpace(a.in.Text())
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}

		var err error
		switch args[0] {
		case "help":
			printHelp()
		case "create":
			err = a.create(false)
		case "import":
			err = a.create(true)
		case "open":
			err = a.open()
		case "close":
			a.store.Close()
		case "list":
			err = a.list(strings.Join(args[1:], " "))
		case "add":
			err = a.add()
		case "edit":
			err = a.edit(args[1:])
		case "delete":
			err = a.delete(args[1:])
		case "copy":
			err = a.copyPassword(args[1:])
		case "mnemonic":
			err = a.showMnemonic()
		case "sync-to":
			err = a.syncTo(strings.Join(args[1:], " "))
		case "sync-from":
			err = a.syncFrom()
		case "export":
			err = a.export()
		case "devices":
			err = a.devices()
		case "delete-device":
			err = a.deleteDevice(strings.Join(args[1:], " "))
		case "rename":
			err = a.rename(strings.Join(args[1:], " "))
		case "destroy":
			err = a.destroy()
		case "exit", "quit":
			a.store.Close()
			fmt.Println("Bye")
			return
		default:
			fmt.Println("Unknown command. Type 'help' for a list of commands.")
		}

		if err != nil {
			showError(err)
		}
	}
	a.store.Close()
}

func printHelp() {
	fmt.Println(`Commands:
  create                 create a new vault
  import                 create a new vault and fill it from another device
  open                   open a recent vault
  close                  close the current vault
  list [filter]          list entries (filter matches site/user/notes)
  add                    add an entry (password generated when left empty)
  edit <id>              edit one field of an entry
  delete <id>            delete an entry
  copy <id>              copy an entry's password to the clipboard
  mnemonic               show the recovery phrase (text + QR)
  sync-to [device]       send changes to a device as QR frames
  sync-from              apply QR frames scanned from another device
  export                 show the full vault as QR frames (no device state)
  devices                list sync devices
  delete-device <name>   forget a sync device
  rename <new name>      rename the current vault
  destroy                delete the current vault file
  exit                   quit`)
}

// showError renders a failure for the user: short title, optional
// explanation, raw detail for diagnostics.
func showError(err error) {
	var uerr *models.UserError
	if errors.As(err, &uerr) {
		fmt.Println("Error:", uerr.Title)
		if uerr.Description != "" {
			fmt.Println(" ", uerr.Description)
		}
		if uerr.Detail != nil {
			fmt.Println("  detail:", uerr.Detail)
		}
		return
	}
	fmt.Println("Error:", err)
}

// userError converts well-known failures into user-facing ones.
func userError(err error) error {
	switch {
	case errors.Is(err, cipher.ErrWrongPassword):
		return models.NewUserError("Wrong master password", "Check the password and try again", err)
	case errors.Is(err, vault.ErrFormatVersion):
		return models.NewUserError("Vault format too new", "Update qrvault to open this file", err)
	case errors.Is(err, vault.ErrNotOpen):
		return models.NewUserError("No open vault", "Open or create a vault first", err)
	default:
		return err
	}
}
