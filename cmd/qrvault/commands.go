package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"

	"github.com/avoronov/qrvault/internal/mnemonic"
	"github.com/avoronov/qrvault/internal/models"
	"github.com/avoronov/qrvault/internal/qrcodec"
	"github.com/avoronov/qrvault/internal/scanner"
	"github.com/avoronov/qrvault/internal/vault"
)

// create makes a new vault; with fromDevice it immediately imports entries
// scanned from another device.
func (a *app) create(fromDevice bool) error {
	if a.store.State() != vault.Closed {
		return models.NewUserError("A vault is already open", "Close it first", nil)
	}

	name := a.promptLine("Vault name: ")
	if name == "" {
		return nil
	}

	words, err := a.promptMnemonic(fromDevice)
	if err != nil || words == nil {
		return err
	}

	fmt.Println("Recovery phrase:", strings.Join(words, " "))
	fmt.Println("Write it down; it is the only way to recover this vault.")

	masterPassword := ""
	if answer := a.promptLine("Protect the phrase with a master password? [y/N]: "); strings.EqualFold(answer, "y") {
		suggestion, err := generatePassword(16)
		if err != nil {
			return err
		}
		fmt.Println("Suggested password:", suggestion)
		masterPassword = a.promptPassword("Master password (empty to use the suggestion): ")
		if masterPassword == "" {
			masterPassword = suggestion
		}
	}

	if err := a.store.Create(name, words, masterPassword); err != nil {
		return userError(err)
	}
	if err := a.cfg.TouchVault(a.store.Path()); err != nil {
		return err
	}

	if fromDevice {
		if err := a.syncFrom(); err != nil {
			a.store.Close()
			return err
		}
	}

	fmt.Printf("Vault %q created\n", name)
	return nil
}

// promptMnemonic asks for a recovery phrase: empty input generates a fresh
// one (creation only), "scan" runs a mnemonic scan session, anything else
// is parsed as the twelve words.
func (a *app) promptMnemonic(fromDevice bool) ([]string, error) {
	label := "Recovery phrase (12 words, 'scan' to scan a QR code"
	if !fromDevice {
		label += ", empty to generate"
	}
	label += "): "

	input := a.promptLine(label)
	switch {
	case input == "" && !fromDevice:
		return mnemonic.Generate()
	case input == "":
		return nil, nil
	case input == "scan":
		session := scanner.NewMnemonicSession(newStdinFrameSource(a.in), a.log)
		session.Start()
		<-session.Done()
		words, err := session.Words()
		if errors.Is(err, scanner.ErrCanceled) {
			return nil, nil
		}
		if err != nil {
			return nil, models.NewUserError("Scan failed", "", err)
		}
		return words, nil
	default:
		words := strings.Fields(strings.ToLower(input))
		if err := mnemonic.Validate(words); err != nil {
			return nil, models.NewUserError("Invalid recovery phrase", "Expected 12 wordlist words", err)
		}
		return words, nil
	}
}

// open loads one of the recent vaults.
func (a *app) open() error {
	if a.store.State() != vault.Closed {
		return models.NewUserError("A vault is already open", "Close it first", nil)
	}

	vaults := a.cfg.Vaults()
	if len(vaults) == 0 {
		return models.NewUserError("No known vaults", "Use 'create' or 'import' first", nil)
	}
	for i, path := range vaults {
		fmt.Printf("  %d: %s\n", i+1, path)
	}
	choice := a.promptLine("Vault number: ")
	n, err := strconv.Atoi(choice)
	if err != nil || n < 1 || n > len(vaults) {
		return nil
	}
	path := vaults[n-1]

	creds := vault.Credentials{}
	creds.MasterPassword = a.promptPassword("Master password (empty to enter the phrase instead): ")
	if creds.MasterPassword == "" {
		words := strings.Fields(strings.ToLower(a.promptLine("Recovery phrase: ")))
		if err := mnemonic.Validate(words); err != nil {
			return models.NewUserError("Invalid recovery phrase", "Expected 12 wordlist words", err)
		}
		creds.Words = words
	}

	err = a.store.Open(path, creds, vault.OpenOptions{})
	var entryErr *vault.EntryDecryptError
	if errors.As(err, &entryErr) {
		fmt.Printf("Entry %s cannot be decrypted.\n", entryErr.ID)
		if answer := a.promptLine("Open the vault without it? [y/N]: "); strings.EqualFold(answer, "y") {
			err = a.store.Open(path, creds, vault.OpenOptions{SkipCorrupt: true})
		}
	}
	if err != nil {
		return userError(err)
	}

	if err := a.cfg.TouchVault(path); err != nil {
		return err
	}
	fmt.Printf("Vault %q opened: %d entries\n", a.store.Name(), len(a.store.Entries()))
	return nil
}

// list prints the decrypted entries, optionally filtered.
func (a *app) list(filter string) error {
	if a.store.State() != vault.Open {
		return userError(vault.ErrNotOpen)
	}
	for i, e := range a.store.Entries() {
		if filter != "" &&
			!strings.Contains(e.Fields["site"], filter) &&
			!strings.Contains(e.Fields["user"], filter) &&
			!strings.Contains(e.Fields["notes"], filter) {
			continue
		}
		fmt.Printf("%3d  %s  site=%q user=%q notes=%q\n",
			i+1, e.ID, e.Fields["site"], e.Fields["user"], e.Fields["notes"])
	}
	return nil
}

// add creates a new entry. An empty password gets a generated one, like
// the desktop original.
func (a *app) add() error {
	if a.store.State() != vault.Open {
		return userError(vault.ErrNotOpen)
	}

	fields := map[string]string{}
	if v := a.promptLine("Site: "); v != "" {
		fields["site"] = v
	}
	if v := a.promptLine("Username: "); v != "" {
		fields["user"] = v
	}
	pass := a.promptPassword("Password (empty to generate): ")
	if pass == "" {
		var err error
		pass, err = generatePassword(generatedPasswordLen)
		if err != nil {
			return err
		}
		fmt.Println("Generated password:", pass)
	}
	fields["pass"] = pass
	if v := a.promptLine("Notes: "); v != "" {
		fields["notes"] = v
	}

	if err := a.rec.Apply(a.store, models.Action{Act: models.ActAdd, Fields: fields}, nil); err != nil {
		return userError(err)
	}
	return a.store.Save()
}

// edit changes one field of an entry via a sync action; fields not
// mentioned stay untouched.
func (a *app) edit(args []string) error {
	if a.store.State() != vault.Open {
		return userError(vault.ErrNotOpen)
	}
	if len(args) < 1 {
		fmt.Println("Usage: edit <id>")
		return nil
	}
	id := args[0]
	if _, ok := a.store.Entry(id); !ok {
		fmt.Println("Entry not found")
		return nil
	}

	field := a.promptLine("Field (site/user/pass/notes): ")
	if field == "" {
		return nil
	}
	value := a.promptLine("New value: ")

	action := models.Action{Act: models.ActSync, ID: id, Fields: map[string]string{field: value}}
	if err := a.rec.Apply(a.store, action, nil); err != nil {
		return userError(err)
	}
	return a.store.Save()
}

func (a *app) delete(args []string) error {
	if a.store.State() != vault.Open {
		return userError(vault.ErrNotOpen)
	}
	if len(args) < 1 {
		fmt.Println("Usage: delete <id>")
		return nil
	}
	if err := a.rec.Apply(a.store, models.Action{Act: models.ActDelete, ID: args[0]}, nil); err != nil {
		return userError(err)
	}
	return a.store.Save()
}

func (a *app) copyPassword(args []string) error {
	if a.store.State() != vault.Open {
		return userError(vault.ErrNotOpen)
	}
	if len(args) < 1 {
		fmt.Println("Usage: copy <id>")
		return nil
	}
	entry, ok := a.store.Entry(args[0])
	if !ok {
		fmt.Println("Entry not found")
		return nil
	}
	if err := clipboard.WriteAll(entry.Fields["pass"]); err != nil {
		return models.NewUserError("Cannot access clipboard", "", err)
	}
	fmt.Println("Password copied")
	return nil
}

// showMnemonic prints the phrase and its single-frame QR code.
func (a *app) showMnemonic() error {
	if a.store.State() != vault.Open {
		return userError(vault.ErrNotOpen)
	}
	words := a.store.Mnemonic()
	fmt.Println("Recovery phrase:", strings.Join(words, " "))
	frame, err := qrcodec.EncodeMnemonic(words)
	if err != nil {
		return err
	}
	showQR(frame)
	return nil
}

// syncTo diffs the vault against a device's last-known state and shows the
// resulting actions as QR frames, then records the new snapshot.
func (a *app) syncTo(device string) error {
	if a.store.State() != vault.Open {
		return userError(vault.ErrNotOpen)
	}
	if device == "" {
		device = a.promptLine("Device name: ")
		if device == "" {
			return nil
		}
	}
	if !a.store.HasDevice(device) {
		fmt.Printf("New device %q. The receiving vault needs the same recovery phrase:\n", device)
		if err := a.showMnemonic(); err != nil {
			return err
		}
	}

	actions, salt, err := a.rec.Diff(a.store, device)
	if err != nil {
		return userError(err)
	}
	if len(actions) == 0 {
		fmt.Printf("Nothing to sync with %q\n", device)
		return nil
	}

	frames, err := qrcodec.EncodeActions(actions, salt)
	if err != nil {
		return err
	}
	a.showFrames(frames)

	if err := a.store.CommitDevice(device, salt); err != nil {
		return userError(err)
	}
	fmt.Printf("Synced with %q: %d actions, %d frames\n", device, len(actions), len(frames))
	return nil
}

// export shows the whole vault as QR frames without touching device state.
func (a *app) export() error {
	if a.store.State() != vault.Open {
		return userError(vault.ErrNotOpen)
	}
	if err := a.showMnemonic(); err != nil {
		return err
	}

	actions, salt, err := a.rec.Diff(a.store, "")
	if err != nil {
		return userError(err)
	}
	if len(actions) == 0 {
		fmt.Println("Nothing to export")
		return nil
	}
	frames, err := qrcodec.EncodeActions(actions, salt)
	if err != nil {
		return err
	}
	a.showFrames(frames)
	fmt.Printf("Exported %d actions in %d frames\n", len(actions), len(frames))
	return nil
}

// syncFrom runs a scan session and applies the received actions.
func (a *app) syncFrom() error {
	if a.store.State() != vault.Open {
		return userError(vault.ErrNotOpen)
	}

	fmt.Println("Paste decoded frames one per line ('.' to cancel):")
	session := scanner.NewActionsSession(newStdinFrameSource(a.in), a.log)
	session.Start()
	<-session.Done()

	actions, salt, err := session.Actions()
	if errors.Is(err, scanner.ErrCanceled) {
		fmt.Println("Scan canceled")
		return nil
	}
	if err != nil {
		return models.NewUserError("Scan failed", "", err)
	}

	var key []byte
	if salt != nil {
		key, _, err = a.store.SessionKey(salt)
		if err != nil {
			return userError(err)
		}
	}
	if err := a.rec.ApplyAll(a.store, actions, key); err != nil {
		return userError(err)
	}
	if err := a.store.Save(); err != nil {
		return err
	}
	fmt.Printf("Applied %d actions\n", len(actions))
	return nil
}

func (a *app) devices() error {
	if a.store.State() != vault.Open {
		return userError(vault.ErrNotOpen)
	}
	names := a.store.DeviceNames()
	if len(names) == 0 {
		fmt.Println("No sync devices")
		return nil
	}
	for _, name := range names {
		fmt.Println(" ", name)
	}
	return nil
}

func (a *app) deleteDevice(name string) error {
	if name == "" {
		fmt.Println("Usage: delete-device <name>")
		return nil
	}
	if err := a.store.DeleteDevice(name); err != nil {
		return userError(err)
	}
	fmt.Printf("Device %q deleted\n", name)
	return nil
}

func (a *app) rename(newName string) error {
	if a.store.State() != vault.Open {
		return userError(vault.ErrNotOpen)
	}
	if newName == "" {
		fmt.Println("Usage: rename <new name>")
		return nil
	}
	oldPath := a.store.Path()
	if err := a.store.Rename(newName); err != nil {
		return userError(err)
	}
	return a.cfg.ReplaceVault(oldPath, a.store.Path())
}

// destroy deletes the current vault file after the operator confirms by
// typing the vault name.
func (a *app) destroy() error {
	if a.store.State() != vault.Open {
		return userError(vault.ErrNotOpen)
	}
	name := a.store.Name()
	if a.promptLine(fmt.Sprintf("Type the vault name (%q) to confirm deletion: ", name)) != name {
		fmt.Println("Not confirmed")
		return nil
	}
	path := a.store.Path()
	if err := a.store.Destroy(); err != nil {
		return userError(err)
	}
	if err := a.cfg.RemoveVault(path); err != nil {
		return err
	}
	fmt.Printf("Vault %q deleted\n", name)
	return nil
}
